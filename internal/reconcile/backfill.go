package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/ingest"
)

const defaultProgressEvery = 25

// BackfillOptions bounds a historical re-ingestion run.
type BackfillOptions struct {
	From time.Time
	To   time.Time
	// SkipExisting leaves conversations already represented locally alone.
	SkipExisting bool
	// DryRun reports volume without writing anything.
	DryRun bool
	// ProgressEvery controls how often a backfill-progress event fires.
	ProgressEvery int
}

// BackfillReport accumulates per-conversation outcomes.
type BackfillReport struct {
	Found   int      `json:"found"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	DryRun  bool     `json:"dry_run"`
	Errors  []string `json:"errors"`
}

// Backfill paginates the provider across the date range and feeds every
// remaining conversation through the same ingest path the poller uses, so
// writes stay idempotent.
func (r *Reconciler) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	report := &BackfillReport{DryRun: opts.DryRun}

	if opts.To.IsZero() {
		opts.To = time.Now().UTC()
	}
	if opts.From.IsZero() {
		opts.From = opts.To.Add(-defaultVerifyWindow)
	}
	progressEvery := opts.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = defaultProgressEvery
	}

	conversations, err := r.source.ListConversations(ctx, &elevenlabs.ListParams{
		AgentID: r.agentID,
		After:   opts.From,
		Before:  opts.To,
	})
	if err != nil {
		r.publish(events.BackfillError, map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("listing conversations for backfill: %w", err)
	}

	conversations.SortByCreatedAt()
	report.Found = conversations.Len()

	var known map[string]struct{}
	if opts.SkipExisting {
		known, err = r.localConversationIDs()
		if err != nil {
			r.publish(events.BackfillError, map[string]interface{}{"error": err.Error()})
			return nil, err
		}
	}

	for i, conv := range conversations.Items {
		if opts.SkipExisting {
			if _, exists := known[conv.ConversationID]; exists {
				report.Skipped++
				continue
			}
		}

		if opts.DryRun {
			report.Skipped++
			continue
		}

		if err := r.ingestOne(ctx, conv, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", conv.ConversationID, err))
			r.logger.Warn("backfill item failed",
				zap.String("conversation_id", conv.ConversationID),
				zap.Error(err),
			)
		}

		if (i+1)%progressEvery == 0 {
			r.publish(events.BackfillProgress, map[string]interface{}{
				"seen":    i + 1,
				"found":   report.Found,
				"created": report.Created,
				"updated": report.Updated,
				"failed":  report.Failed,
				"skipped": report.Skipped,
			})
		}
	}

	r.publish(events.BackfillComplete, map[string]interface{}{
		"found":   report.Found,
		"created": report.Created,
		"updated": report.Updated,
		"failed":  report.Failed,
		"skipped": report.Skipped,
		"dry_run": report.DryRun,
	})

	r.logger.Info("backfill complete",
		zap.Int("found", report.Found),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", report.DryRun),
	)

	return report, nil
}

func (r *Reconciler) ingestOne(ctx context.Context, conv *elevenlabs.Conversation, report *BackfillReport) error {
	if len(conv.Transcript) == 0 {
		full, err := r.source.GetConversation(ctx, conv.ConversationID)
		if err != nil {
			return fmt.Errorf("fetching conversation details: %w", err)
		}
		conv = full
	}

	result, err := r.ingestor.Process(ctx, conv)
	if err != nil {
		return err
	}

	switch result.Action {
	case ingest.ActionCreated:
		report.Created++
	case ingest.ActionUpdated:
		report.Updated++
	}
	return nil
}

func (r *Reconciler) localConversationIDs() (map[string]struct{}, error) {
	candidates, err := r.store.ListCandidatesWithConversation()
	if err != nil {
		return nil, fmt.Errorf("listing local candidates: %w", err)
	}

	ids := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		ids[candidate.ConversationID] = struct{}{}
	}
	return ids, nil
}
