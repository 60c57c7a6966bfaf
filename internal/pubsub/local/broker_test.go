package local

import (
	"context"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/observability"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := b.Subscribe(ctx, "activity")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	evt := &observability.Event{ID: "evt-1", Type: observability.EventTransactionStart}
	if err := b.Publish(context.Background(), "activity", evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != "evt-1" {
			t.Errorf("got event %q, want evt-1", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBroker_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	if err := b.Publish(context.Background(), "empty-topic", &observability.Event{}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)
	ch, unsubscribe, err := b.Subscribe(context.Background(), "activity")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBroker_ContextCancelUnsubscribes(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx, "activity")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for context-triggered unsubscribe")
	}
}

func TestBroker_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, unsubscribe, err := b.Subscribe(ctx, "activity")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			_ = b.Publish(context.Background(), "activity", &observability.Event{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestBroker_MultipleSubscribersEachReceive(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, unsub1, _ := b.Subscribe(ctx, "activity")
	ch2, unsub2, _ := b.Subscribe(ctx, "activity")
	defer unsub1()
	defer unsub2()

	_ = b.Publish(context.Background(), "activity", &observability.Event{ID: "evt-1"})

	for _, ch := range []<-chan *observability.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != "evt-1" {
				t.Errorf("got %q, want evt-1", got.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published event")
		}
	}
}
