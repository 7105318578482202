package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// StageInterviewed is the pipeline stage assigned to freshly created
// candidates.
const StageInterviewed = "interviewed"

// Candidate is the durable record representing one person, keyed by email.
// SyntheticEmail marks records whose email was minted because no real
// address could be mined from the conversation.
type Candidate struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	Stage            string
	Score            int
	SyntheticEmail   bool
	ConversationID   string
	AgentID          string
	TranscriptFileID string
	AudioFileID      string
	StructuredJSON   string // JSON object stored as text
	FlagsJSON        string // JSON object stored as text
	IngestCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Interview is one processed conversation's scorecard, attached to a
// candidate. Re-processing a conversation appends a new row.
type Interview struct {
	ID             string
	CandidateID    string
	ConversationID string
	AgentID        string
	Score          int
	ScorecardJSON  string // JSON object stored as text
	StrengthsJSON  string // JSON array stored as text
	ConcernsJSON   string // JSON array stored as text
	DurationSecs   int
	CreatedAt      time.Time
}

// Tracking is the per-agent polling cursor and counters.
type Tracking struct {
	AgentID            string
	IsActive           bool
	LastProcessedAt    time.Time
	LastConversationID string
	TotalProcessed     int64
	TotalFailed        int64
	LastError          string
	LastErrorAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrackingUpdate is a partial mutation of a tracking record. Nil pointers
// leave the column untouched; Add* counters are cumulative increments.
type TrackingUpdate struct {
	IsActive           *bool
	LastProcessedAt    *time.Time
	LastConversationID *string
	AddProcessed       int64
	AddFailed          int64
	LastError          *string
	LastErrorAt        *time.Time
	ClearError         bool
}

// AuditLog records one processing attempt, success or failure.
type AuditLog struct {
	ID             string
	ConversationID string
	AgentID        string
	Action         string
	Success        bool
	Detail         string
	CreatedAt      time.Time
}
