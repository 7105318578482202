// Package poison tracks per-conversation retry state. A conversation moves
// clean -> retrying(n) -> poisoned; once poisoned it is excluded from
// automatic reprocessing until an operator clears it.
package poison

import (
	"strings"
	"time"
)

// Category classifies a failure from its message text. It is advisory, for
// operator visibility; it does not change the backoff schedule.
type Category string

const (
	CategoryNetwork   Category = "NETWORK"
	CategoryRateLimit Category = "RATE_LIMIT"
	CategoryAPIError  Category = "API_ERROR"
	CategoryUnknown   Category = "UNKNOWN"
)

// maxAttempts is the retry ceiling: attempts 1..5 are retryable, the next
// failure poisons the conversation.
const maxAttempts = 5

// backoffLadder holds waits for consecutive failures; attempts past its end
// reuse the last entry.
var backoffLadder = []time.Duration{
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	5000 * time.Millisecond,
}

// Record is the retry state for one conversation.
type Record struct {
	ConversationID string
	AttemptCount   int
	ErrorType      Category
	LastError      string
	NextBackoff    time.Duration
	Poisoned       bool
	FirstFailedAt  time.Time
	LastFailedAt   time.Time
}

// Decision is the handler's advice for a failed conversation.
type Decision struct {
	Retry    bool
	Wait     time.Duration
	Category Category
	Poisoned bool
	Attempt  int
}

// Store holds retry records. The shipped implementation is in-memory; a
// durable one can be injected where poisoned status must survive restarts.
type Store interface {
	Get(conversationID string) (*Record, bool)
	Put(record *Record)
	Delete(conversationID string)
	All() []*Record
	Clear()
}

// Handler is the per-conversation retry state machine.
type Handler struct {
	store Store
	now   func() time.Time
}

func NewHandler(store Store) *Handler {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Handler{store: store, now: time.Now}
}

// ShouldRetry records a failure for the conversation and advises whether to
// retry and how long to wait first. Exceeding the attempt ceiling poisons
// the conversation.
func (h *Handler) ShouldRetry(conversationID, errMsg string) Decision {
	now := h.now().UTC()

	record, ok := h.store.Get(conversationID)
	if !ok {
		record = &Record{
			ConversationID: conversationID,
			FirstFailedAt:  now,
		}
	}

	record.AttemptCount++
	record.ErrorType = Categorize(errMsg)
	record.LastError = errMsg
	record.LastFailedAt = now

	if record.Poisoned || record.AttemptCount > maxAttempts {
		record.Poisoned = true
		record.NextBackoff = 0
		h.store.Put(record)
		return Decision{
			Retry:    false,
			Category: record.ErrorType,
			Poisoned: true,
			Attempt:  record.AttemptCount,
		}
	}

	record.NextBackoff = backoffFor(record.AttemptCount)
	h.store.Put(record)

	return Decision{
		Retry:    true,
		Wait:     record.NextBackoff,
		Category: record.ErrorType,
		Attempt:  record.AttemptCount,
	}
}

// MarkSuccess clears accumulated retry state for the conversation.
func (h *Handler) MarkSuccess(conversationID string) {
	h.store.Delete(conversationID)
}

// ManualRetry forcibly un-poisons a conversation so the next cycle picks it
// up with a fresh budget. Returns false when the conversation has no record.
func (h *Handler) ManualRetry(conversationID string) bool {
	if _, ok := h.store.Get(conversationID); !ok {
		return false
	}
	h.store.Delete(conversationID)
	return true
}

// IsPoisoned reports whether the conversation has exhausted its budget.
func (h *Handler) IsPoisoned(conversationID string) bool {
	record, ok := h.store.Get(conversationID)
	return ok && record.Poisoned
}

// Poisoned returns all currently poisoned conversations.
func (h *Handler) Poisoned() []*Record {
	var poisoned []*Record
	for _, record := range h.store.All() {
		if record.Poisoned {
			poisoned = append(poisoned, record)
		}
	}
	return poisoned
}

// Records returns every tracked retry record, poisoned or not.
func (h *Handler) Records() []*Record {
	return h.store.All()
}

// Clear wipes all retry state.
func (h *Handler) Clear() {
	h.store.Clear()
}

func backoffFor(attempt int) time.Duration {
	if attempt <= 0 {
		return backoffLadder[0]
	}
	if attempt > len(backoffLadder) {
		return backoffLadder[len(backoffLadder)-1]
	}
	return backoffLadder[attempt-1]
}

// Categorize maps an error message to a failure category.
func Categorize(errMsg string) Category {
	msg := strings.ToLower(errMsg)

	switch {
	case containsAny(msg, "429", "rate limit", "too many requests"):
		return CategoryRateLimit
	case containsAny(msg, "connection refused", "connection reset", "no such host",
		"network", "timeout", "deadline exceeded", "broken pipe", "dial tcp", "eof"):
		return CategoryNetwork
	case containsAny(msg, "400", "401", "403", "404", "bad request",
		"unauthorized", "forbidden", "not found", "unprocessable"):
		return CategoryAPIError
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, parts ...string) bool {
	for _, part := range parts {
		if strings.Contains(s, part) {
			return true
		}
	}
	return false
}
