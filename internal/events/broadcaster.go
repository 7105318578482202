// Package events fans pipeline events out to in-process observers such as
// the ops websocket endpoint.
package events

import (
	"sync"
	"time"
)

// Event names emitted by the pipeline.
const (
	CandidateCreated       = "candidate-created"
	AutomationUpdate       = "elevenlabs-automation-update"
	AutomationError        = "elevenlabs-automation-error"
	SyncVerificationDone   = "sync-verification-complete"
	SyncVerificationFailed = "sync-verification-error"
	BackfillProgress       = "backfill-progress"
	BackfillComplete       = "backfill-complete"
	BackfillError          = "backfill-error"
)

// Event is one broadcast payload: a name plus a flat field object.
type Event struct {
	Name      string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

const subscriberBuffer = 64

// Broadcaster delivers events to all current subscribers. Delivery is
// non-blocking: a subscriber that stops draining its channel loses events
// rather than stalling the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer. The returned cancel func must be called
// to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish sends the event to every subscriber.
func (b *Broadcaster) Publish(name string, fields map[string]interface{}) {
	event := Event{
		Name:      name,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the current observer count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
