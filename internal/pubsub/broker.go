// Package pubsub defines the `pubsub` interface handle the activity stream
// fans transaction events out over, plus its in-process implementation.
package pubsub

import (
	"context"

	"github.com/luthienresearch/luthien-gateway/internal/observability"
)

// Broker is the `pubsub` interface handle named in §6: the activity stream
// handler subscribes to a topic (typically per-session or the wildcard
// "activity" topic) and receives every event published on it.
type Broker interface {
	Publish(ctx context.Context, topic string, evt *observability.Event) error

	// Subscribe returns a channel of events published to topic and an
	// unsubscribe function the caller must invoke when done to release
	// the channel. The channel is closed once unsubscribe runs.
	Subscribe(ctx context.Context, topic string) (<-chan *observability.Event, func(), error)
}
