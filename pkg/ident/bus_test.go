package ident_test

import (
	"testing"
	"time"

	"github.com/auricle-labs/timbre/pkg/ident"
)

func TestBusFanOut(t *testing.T) {
	bus := ident.NewBus()

	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	if got := bus.Subscribers(); got != 2 {
		t.Fatalf("Subscribers = %d, want 2", got)
	}

	sent := ident.BusEvent{Topic: ident.TopicIdentification, SpeakerID: "sp-1", Score: 0.9}
	bus.Publish(sent)

	for name, ch := range map[string]<-chan ident.BusEvent{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.Topic != sent.Topic || got.SpeakerID != sent.SpeakerID {
				t.Errorf("subscriber %s received %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := ident.NewBus()
	ch, cancel := bus.Subscribe()

	cancel()
	if got := bus.Subscribers(); got != 0 {
		t.Errorf("Subscribers = %d after cancel, want 0", got)
	}
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	// Cancelling twice must not panic.
	cancel()
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := ident.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overfill the buffer without draining; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(ident.BusEvent{Topic: ident.TopicDecay})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received == 0 || received > 64 {
				t.Errorf("received %d events, want 1..64 (buffer bound)", received)
			}
			return
		}
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := ident.NewBus()
	// Must be a no-op, not a panic or block.
	bus.Publish(ident.BusEvent{Topic: ident.TopicFeedback})
}
