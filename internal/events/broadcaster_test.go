package events

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Publish(CandidateCreated, map[string]interface{}{"candidate_id": "cand_1"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case event := <-ch:
			if event.Name != CandidateCreated {
				t.Fatalf("unexpected event: %s", event.Name)
			}
			if event.Fields["candidate_id"] != "cand_1" {
				t.Fatalf("unexpected fields: %v", event.Fields)
			}
			if event.Timestamp.IsZero() {
				t.Fatalf("expected a timestamp")
			}
		default:
			t.Fatalf("expected event to be delivered")
		}
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewBroadcaster()

	_, cancel := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Subscribers())
	}

	cancel()
	if b.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", b.Subscribers())
	}

	cancel()
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(AutomationUpdate, nil)
	}

	if len(ch) != subscriberBuffer {
		t.Fatalf("expected buffer to cap at %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(AutomationError, map[string]interface{}{"error": "boom"})
}
