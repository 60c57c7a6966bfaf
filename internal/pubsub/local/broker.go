// Package local implements pubsub.Broker as an in-process fan-out,
// sufficient for a single-process gateway; it adapts the teacher's
// per-connection buffered-channel idiom (a non-blocking send into a
// fixed-capacity channel, dropping on backpressure) from one WebSocket
// connection to one topic's set of subscribers.
package local

import (
	"context"
	"sync"

	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/pubsub"
)

// defaultBufferSize bounds how many unread events a slow subscriber can
// fall behind by before publishes start dropping for it.
const defaultBufferSize = 64

// Broker is an in-process pubsub.Broker. The zero value is not usable;
// construct with New.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan *observability.Event
	nextID      int64
	bufferSize  int
	metrics     *observability.Metrics
}

var _ pubsub.Broker = (*Broker)(nil)

// New creates an in-process Broker. metrics may be nil; when set,
// ActivitySubscribers is kept in sync with the live subscriber count.
func New(metrics *observability.Metrics) *Broker {
	return &Broker{
		subscribers: make(map[string]map[int64]chan *observability.Event),
		bufferSize:  defaultBufferSize,
		metrics:     metrics,
	}
}

// Publish fans evt out to every current subscriber of topic. A subscriber
// whose buffer is full has the event dropped rather than blocking the
// publisher; the activity stream is best-effort, not a durable log.
func (b *Broker) Publish(ctx context.Context, topic string, evt *observability.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a new buffered channel under topic. The returned
// unsubscribe function removes and closes it; it is safe to call more than
// once.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan *observability.Event, func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan *observability.Event, b.bufferSize)
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int64]chan *observability.Event)
	}
	b.subscribers[topic][id] = ch
	count := b.subscriberCountLocked()
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ActivitySubscribers.Set(float64(count))
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[topic]; ok {
				if existing, ok := subs[id]; ok {
					delete(subs, id)
					close(existing)
				}
				if len(subs) == 0 {
					delete(b.subscribers, topic)
				}
			}
			count := b.subscriberCountLocked()
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.ActivitySubscribers.Set(float64(count))
			}
		})
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, unsubscribe, nil
}

func (b *Broker) subscriberCountLocked() int {
	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	return total
}
