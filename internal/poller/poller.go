// Package poller schedules the recurring ingestion of new conversations for
// one monitored agent.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/ingest"
	"github.com/hireloop/interview-intake/internal/poison"
	"github.com/hireloop/interview-intake/internal/storage"
)

const (
	defaultInterval = 5 * time.Minute
	defaultWarmup   = 5 * time.Second
)

// ErrCycleInProgress is returned by TriggerPoll when another cycle holds the
// re-entrancy guard.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// ConversationSource lists and resolves conversations from the provider.
type ConversationSource interface {
	ListConversations(ctx context.Context, params *elevenlabs.ListParams) (*elevenlabs.Conversations, error)
	GetConversation(ctx context.Context, id string) (*elevenlabs.Conversation, error)
}

// TrackingStore is the slice of storage the poller needs.
type TrackingStore interface {
	GetTracking(agentID string) (*storage.Tracking, error)
	UpsertTracking(t *storage.Tracking) error
	UpdateTracking(agentID string, u storage.TrackingUpdate) error
}

// Ingestor processes one conversation into a candidate record.
type Ingestor interface {
	Process(ctx context.Context, conv *elevenlabs.Conversation) (*ingest.Result, error)
}

// Broadcaster publishes pipeline events.
type Broadcaster interface {
	Publish(name string, fields map[string]interface{})
}

// CycleSummary is the structured result of one poll cycle, returned by
// TriggerPoll for operational tooling.
type CycleSummary struct {
	Found     int      `json:"found"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Poller drives Extract -> Ingest for every new conversation on a fixed
// interval, advancing the tracking cursor as it goes. Conversation
// processing within a cycle is sequential so cursor advancement stays
// monotonic and poison state needs no extra locking.
type Poller struct {
	source      ConversationSource
	store       TrackingStore
	ingestor    Ingestor
	poison      *poison.Handler
	broadcaster Broadcaster
	logger      *zap.Logger

	agentID  string
	interval time.Duration
	warmup   time.Duration

	mu      sync.Mutex
	running bool
	polling bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Config holds poller construction options.
type Config struct {
	AgentID  string
	Interval time.Duration
	Warmup   time.Duration
}

func New(cfg Config, source ConversationSource, store TrackingStore, ingestor Ingestor, handler *poison.Handler, broadcaster Broadcaster, logger *zap.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	warmup := cfg.Warmup
	if warmup < 0 {
		warmup = defaultWarmup
	}

	return &Poller{
		source:      source,
		store:       store,
		ingestor:    ingestor,
		poison:      handler,
		broadcaster: broadcaster,
		logger:      logger,
		agentID:     cfg.AgentID,
		interval:    interval,
		warmup:      warmup,
	}
}

// Start begins recurring polling: one cycle after the warm-up delay, then
// one per interval. Calling Start while already running is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if _, err := p.ensureTracking(); err != nil {
		return fmt.Errorf("ensuring tracking record: %w", err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.logger.Info("poller started",
		zap.String("agent_id", p.agentID),
		zap.Duration("interval", p.interval),
	)

	go func() {
		defer close(done)

		if err := waitFor(runCtx, p.warmup); err != nil {
			return
		}

		for {
			if _, err := p.TriggerPoll(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("poll cycle failed", zap.Error(err))
			}

			if err := waitFor(runCtx, p.interval); err != nil {
				return
			}
		}
	}()

	return nil
}

// Stop cancels future cycles. An in-flight cycle is not interrupted mid-item;
// Stop waits for it to wind down. Stopping an idle poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("poller stopped", zap.String("agent_id", p.agentID))
}

// Running reports whether the recurring timer is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// TriggerPoll runs one poll cycle synchronously and returns its summary.
// Only one cycle may run at a time.
func (p *Poller) TriggerPoll(ctx context.Context) (*CycleSummary, error) {
	p.mu.Lock()
	if p.polling {
		p.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	p.polling = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.polling = false
		p.mu.Unlock()
	}()

	return p.runCycle(ctx)
}

func (p *Poller) runCycle(ctx context.Context) (*CycleSummary, error) {
	summary := &CycleSummary{}

	tracking, err := p.ensureTracking()
	if err != nil {
		return nil, fmt.Errorf("reading tracking record: %w", err)
	}

	if !tracking.IsActive {
		p.logger.Debug("tracking inactive, skipping cycle", zap.String("agent_id", p.agentID))
		return summary, nil
	}

	conversations, err := p.source.ListConversations(ctx, &elevenlabs.ListParams{
		AgentID: p.agentID,
		After:   tracking.LastProcessedAt,
	})
	if err != nil {
		p.recordCycleError(err)
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summary.Found = conversations.Len()
	if summary.Found == 0 {
		p.logger.Debug("no new conversations", zap.String("agent_id", p.agentID))
		return summary, nil
	}

	conversations.SortByCreatedAt()

	bestProcessedAt := tracking.LastProcessedAt
	lastConversationID := tracking.LastConversationID

	for _, conv := range conversations.Items {
		if p.poison != nil && p.poison.IsPoisoned(conv.ConversationID) {
			p.logger.Debug("skipping poisoned conversation",
				zap.String("conversation_id", conv.ConversationID))
			summary.Skipped++
			continue
		}

		if err := p.processConversation(ctx, conv); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", conv.ConversationID, err))
			p.logger.Warn("conversation processing failed",
				zap.String("conversation_id", conv.ConversationID),
				zap.Error(err),
			)
			continue
		}

		summary.Processed++
		if conv.CreatedAt.After(bestProcessedAt) {
			bestProcessedAt = conv.CreatedAt
		}
		lastConversationID = conv.ConversationID
	}

	update := storage.TrackingUpdate{
		AddProcessed: int64(summary.Processed),
		AddFailed:    int64(summary.Failed),
		ClearError:   true,
	}
	if bestProcessedAt.After(tracking.LastProcessedAt) {
		update.LastProcessedAt = &bestProcessedAt
	}
	if lastConversationID != tracking.LastConversationID {
		update.LastConversationID = &lastConversationID
	}

	if err := p.store.UpdateTracking(p.agentID, update); err != nil {
		return summary, fmt.Errorf("persisting tracking record: %w", err)
	}

	if p.broadcaster != nil {
		p.broadcaster.Publish(events.AutomationUpdate, map[string]interface{}{
			"agent_id":        p.agentID,
			"found":           summary.Found,
			"processed":       summary.Processed,
			"failed":          summary.Failed,
			"total_processed": tracking.TotalProcessed + int64(summary.Processed),
			"total_failed":    tracking.TotalFailed + int64(summary.Failed),
		})
	}

	p.logger.Info("poll cycle complete",
		zap.Int("found", summary.Found),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)

	return summary, nil
}

// processConversation resolves the full payload and drives it through
// ingest, retrying transient failures per the poison handler's advice until
// it succeeds, hits a fatal error, or is poisoned.
func (p *Poller) processConversation(ctx context.Context, conv *elevenlabs.Conversation) error {
	for {
		err := p.processOnce(ctx, conv)
		if err == nil {
			if p.poison != nil {
				p.poison.MarkSuccess(conv.ConversationID)
			}
			return nil
		}

		if errors.Is(err, ingest.ErrInsufficientData) || errors.Is(err, ingest.ErrValidation) {
			// Fatal for this item; retrying cannot help.
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if p.poison == nil {
			return err
		}

		decision := p.poison.ShouldRetry(conv.ConversationID, err.Error())
		if !decision.Retry {
			p.publishError(fmt.Sprintf("conversation %s poisoned after %d attempts: %v",
				conv.ConversationID, decision.Attempt, err))
			return fmt.Errorf("poisoned after %d attempts: %w", decision.Attempt, err)
		}

		p.logger.Debug("retrying conversation",
			zap.String("conversation_id", conv.ConversationID),
			zap.Int("attempt", decision.Attempt),
			zap.Duration("wait", decision.Wait),
			zap.String("category", string(decision.Category)),
		)

		if err := waitFor(ctx, decision.Wait); err != nil {
			return err
		}
	}
}

func (p *Poller) processOnce(ctx context.Context, conv *elevenlabs.Conversation) error {
	// List items arrive without transcripts; resolve the full payload first.
	if len(conv.Transcript) == 0 {
		full, err := p.source.GetConversation(ctx, conv.ConversationID)
		if err != nil {
			return fmt.Errorf("fetching conversation details: %w", err)
		}
		*conv = *full
	}

	_, err := p.ingestor.Process(ctx, conv)
	return err
}

func (p *Poller) ensureTracking() (*storage.Tracking, error) {
	tracking, err := p.store.GetTracking(p.agentID)
	if err == nil {
		return tracking, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	tracking = &storage.Tracking{
		AgentID:         p.agentID,
		IsActive:        true,
		LastProcessedAt: time.Now().UTC(),
	}
	if err := p.store.UpsertTracking(tracking); err != nil {
		return nil, err
	}

	p.logger.Info("created tracking record", zap.String("agent_id", p.agentID))
	return tracking, nil
}

func (p *Poller) recordCycleError(cycleErr error) {
	msg := cycleErr.Error()
	now := time.Now().UTC()
	if err := p.store.UpdateTracking(p.agentID, storage.TrackingUpdate{
		LastError:   &msg,
		LastErrorAt: &now,
	}); err != nil {
		p.logger.Warn("recording cycle error failed", zap.Error(err))
	}

	p.publishError(msg)
}

func (p *Poller) publishError(msg string) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Publish(events.AutomationError, map[string]interface{}{
		"agent_id": p.agentID,
		"error":    msg,
	})
}

// waitFor sleeps for d unless the context is cancelled first.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
