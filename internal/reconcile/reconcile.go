// Package reconcile detects and heals drift between the provider's
// conversation set and local candidate records. All operations tolerate
// per-item failures: a bad conversation is counted and recorded, never
// allowed to abort the batch.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/ingest"
	"github.com/hireloop/interview-intake/internal/storage"
)

// Sync health classification.
const (
	StatusSynced    = "synced"
	StatusPartial   = "partial"
	StatusOutOfSync = "out_of_sync"
)

const (
	// Issues under this share of external volume classify as partial drift.
	partialThreshold = 0.05

	defaultVerifyWindow = 90 * 24 * time.Hour
	defaultGapWindow    = 30 * 24 * time.Hour

	// Duration drift beyond this many seconds counts as a field mismatch.
	durationToleranceSecs = 5
)

// ConversationSource lists and resolves conversations from the provider.
type ConversationSource interface {
	ListConversations(ctx context.Context, params *elevenlabs.ListParams) (*elevenlabs.Conversations, error)
	GetConversation(ctx context.Context, id string) (*elevenlabs.Conversation, error)
}

// CandidateReader is the slice of storage reconciliation reads.
type CandidateReader interface {
	ListCandidatesWithConversation() ([]*storage.Candidate, error)
	LatestInterviewByConversation(conversationID string) (*storage.Interview, error)
}

// Ingestor processes one conversation into a candidate record.
type Ingestor interface {
	Process(ctx context.Context, conv *elevenlabs.Conversation) (*ingest.Result, error)
}

// Broadcaster publishes pipeline events.
type Broadcaster interface {
	Publish(name string, fields map[string]interface{})
}

// Reconciler compares the external and local datasets and drives repair
// through the same ingest path the poller uses.
type Reconciler struct {
	source      ConversationSource
	store       CandidateReader
	ingestor    Ingestor
	broadcaster Broadcaster
	logger      *zap.Logger
	agentID     string
}

func New(agentID string, source ConversationSource, store CandidateReader, ingestor Ingestor, broadcaster Broadcaster, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		source:      source,
		store:       store,
		ingestor:    ingestor,
		broadcaster: broadcaster,
		logger:      logger,
		agentID:     agentID,
	}
}

// SyncReport is the result of VerifySyncStatus.
type SyncReport struct {
	Status        string    `json:"status"`
	ExternalCount int       `json:"external_count"`
	LocalCount    int       `json:"local_count"`
	Missing       []string  `json:"missing"`
	Orphaned      []string  `json:"orphaned"`
	Duplicate     []string  `json:"duplicate"`
	Invalid       []string  `json:"invalid"`
	Window        string    `json:"window"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Issues counts every detected problem.
func (r *SyncReport) Issues() int {
	return len(r.Missing) + len(r.Orphaned) + len(r.Duplicate) + len(r.Invalid)
}

// VerifySyncStatus builds id-sets for both sides over the window and
// classifies overall health.
func (r *Reconciler) VerifySyncStatus(ctx context.Context, window time.Duration) (*SyncReport, error) {
	if window <= 0 {
		window = defaultVerifyWindow
	}

	report := &SyncReport{
		Window:    window.String(),
		CheckedAt: time.Now().UTC(),
	}

	external, err := r.source.ListConversations(ctx, &elevenlabs.ListParams{
		AgentID: r.agentID,
		After:   report.CheckedAt.Add(-window),
	})
	if err != nil {
		r.publish(events.SyncVerificationFailed, map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("listing external conversations: %w", err)
	}

	local, err := r.store.ListCandidatesWithConversation()
	if err != nil {
		r.publish(events.SyncVerificationFailed, map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("listing local candidates: %w", err)
	}

	externalIDs := make(map[string]struct{}, external.Len())
	for _, conv := range external.Items {
		externalIDs[conv.ConversationID] = struct{}{}
	}

	localIDs := make(map[string]int, len(local))
	for _, candidate := range local {
		localIDs[candidate.ConversationID]++

		if candidate.Name == "" || candidate.Email == "" || ingest.IsSyntheticEmail(candidate.Email) {
			report.Invalid = append(report.Invalid, candidate.ConversationID)
		}
	}

	for id := range externalIDs {
		if _, ok := localIDs[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	for id, count := range localIDs {
		if _, ok := externalIDs[id]; !ok {
			report.Orphaned = append(report.Orphaned, id)
		}
		if count > 1 {
			report.Duplicate = append(report.Duplicate, id)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)
	sort.Strings(report.Duplicate)
	sort.Strings(report.Invalid)

	report.ExternalCount = external.Len()
	report.LocalCount = len(local)
	report.Status = classify(report.Issues(), report.ExternalCount)

	r.publish(events.SyncVerificationDone, map[string]interface{}{
		"status":    report.Status,
		"external":  report.ExternalCount,
		"local":     report.LocalCount,
		"missing":   len(report.Missing),
		"orphaned":  len(report.Orphaned),
		"duplicate": len(report.Duplicate),
		"invalid":   len(report.Invalid),
	})

	r.logger.Info("sync verification complete",
		zap.String("status", report.Status),
		zap.Int("missing", len(report.Missing)),
		zap.Int("orphaned", len(report.Orphaned)),
		zap.Int("duplicate", len(report.Duplicate)),
		zap.Int("invalid", len(report.Invalid)),
	)

	return report, nil
}

func classify(issues, externalCount int) string {
	if issues == 0 {
		return StatusSynced
	}
	if externalCount > 0 && float64(issues)/float64(externalCount) < partialThreshold {
		return StatusPartial
	}
	return StatusOutOfSync
}

func (r *Reconciler) publish(name string, fields map[string]interface{}) {
	if r.broadcaster == nil {
		return
	}
	fields["agent_id"] = r.agentID
	r.broadcaster.Publish(name, fields)
}
