package ident

import (
	"sync"
	"time"
)

// EventTopic labels the kind of engine activity carried by a [BusEvent].
type EventTopic string

const (
	// TopicIdentification is published after every Identify call.
	TopicIdentification EventTopic = "identification"

	// TopicFeedback is published after every applied feedback submission.
	TopicFeedback EventTopic = "feedback"

	// TopicDecay is published after each decay sweep that adjusted at
	// least one embedding.
	TopicDecay EventTopic = "decay"
)

// BusEvent is one notification delivered to [Bus] subscribers.
type BusEvent struct {
	// Topic labels the activity kind.
	Topic EventTopic `json:"topic"`

	// At is when the activity happened.
	At time.Time `json:"at"`

	// SpeakerID is the speaker involved, when one was.
	SpeakerID string `json:"speaker_id,omitempty"`

	// Tier is the decision tier, for identification events.
	Tier Tier `json:"tier,omitempty"`

	// Score is the similarity score, for identification events.
	Score float64 `json:"score,omitempty"`

	// Detail is a short human-readable summary.
	Detail string `json:"detail,omitempty"`
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this misses events rather than blocking
// the engine.
const subscriberBuffer = 64

// Bus fans engine activity out to subscribers. Publishing never blocks:
// events for a full subscriber channel are dropped. Safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan BusEvent
}

// NewBus creates an empty [Bus].
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan BusEvent)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. Cancel closes the channel and must be called exactly once
// when the subscriber is done.
func (b *Bus) Subscribe() (<-chan BusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan BusEvent, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber whose channel has room.
func (b *Bus) Publish(ev BusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber — drop rather than stall the engine.
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
