// Package ingest turns an extracted candidate draft plus its originating
// conversation into exactly one durable candidate record.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/extract"
	"github.com/hireloop/interview-intake/internal/filestore"
	"github.com/hireloop/interview-intake/internal/storage"
)

var (
	// ErrInsufficientData means no candidate identity could be formed. The
	// item is fatal: it is logged, audited and skipped, never retried.
	ErrInsufficientData = errors.New("insufficient data: no usable name or email")

	// ErrValidation means the payload itself fails basic checks.
	ErrValidation = errors.New("conversation payload failed validation")
)

// Action reports what the upsert did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Result describes one processed conversation.
type Result struct {
	Action      Action
	CandidateID string
	Email       string
	Name        string
	Synthetic   bool
	Score       int
}

// CandidateStore is the slice of storage the ingestor needs.
type CandidateStore interface {
	UpsertCandidate(c *storage.Candidate) (bool, error)
	CreateInterview(i *storage.Interview) error
	CreateAuditLog(entry *storage.AuditLog) error
}

// Broadcaster publishes pipeline events.
type Broadcaster interface {
	Publish(name string, fields map[string]interface{})
}

// AudioFetcher retrieves the recorded call audio for a conversation.
type AudioFetcher interface {
	GetAudio(ctx context.Context, id string) ([]byte, error)
}

// Ingestor drives extraction and the create-or-update decision.
type Ingestor struct {
	store       CandidateStore
	files       filestore.Store
	audio       AudioFetcher
	extractor   *extract.Extractor
	broadcaster Broadcaster
	logger      *zap.Logger
}

// New creates an Ingestor. files, audio and broadcaster may be nil; file
// persistence and event publication are then skipped.
func New(store CandidateStore, extractor *extract.Extractor, files filestore.Store, audio AudioFetcher, broadcaster Broadcaster, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:       store,
		files:       files,
		audio:       audio,
		extractor:   extractor,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Process extracts a draft from the conversation and upserts the candidate.
// Re-processing the same conversation updates the existing record instead of
// creating a duplicate; each processing appends one interview row.
func (ing *Ingestor) Process(ctx context.Context, conv *elevenlabs.Conversation) (*Result, error) {
	if conv == nil || strings.TrimSpace(conv.ConversationID) == "" {
		return nil, fmt.Errorf("%w: missing conversation id", ErrValidation)
	}

	draft := ing.extractor.Extract(ctx, conv)

	realEmail := extract.IsRealEmail(draft.Email)
	if draft.Name == "" && !realEmail {
		ing.audit(conv, false, "no usable name or email extracted")
		return nil, fmt.Errorf("conversation %s: %w", conv.ConversationID, ErrInsufficientData)
	}

	email := strings.ToLower(strings.TrimSpace(draft.Email))
	synthetic := false
	if !realEmail {
		email = SyntheticEmail(draft.Name, conv.ConversationID)
		synthetic = true
	}

	// Persist the transcript before the candidate write so the file id can
	// ride along on the record. Failure here degrades to a record without a
	// transcript file, not a failed ingest.
	transcriptFileID := ""
	if ing.files != nil && len(conv.Transcript) > 0 {
		fileID, err := ing.files.Put(ctx, "transcripts", conv.ConversationID, []byte(conv.TranscriptText()))
		if err != nil {
			ing.logger.Warn("persisting transcript failed",
				zap.String("conversation_id", conv.ConversationID),
				zap.Error(err),
			)
		} else {
			transcriptFileID = fileID
		}
	}

	// Audio follows the same degrade-to-no-file rule as the transcript.
	audioFileID := ""
	if ing.files != nil && ing.audio != nil {
		data, err := ing.audio.GetAudio(ctx, conv.ConversationID)
		if err != nil {
			ing.logger.Warn("fetching audio failed",
				zap.String("conversation_id", conv.ConversationID),
				zap.Error(err),
			)
		} else if len(data) > 0 {
			fileID, err := ing.files.Put(ctx, "audio", conv.ConversationID, data)
			if err != nil {
				ing.logger.Warn("persisting audio failed",
					zap.String("conversation_id", conv.ConversationID),
					zap.Error(err),
				)
			} else {
				audioFileID = fileID
			}
		}
	}

	candidate := &storage.Candidate{
		ID:               uuid.New().String(),
		Name:             draft.Name,
		Email:            email,
		Phone:            draft.Phone,
		Stage:            storage.StageInterviewed,
		Score:            draft.OverallScore,
		SyntheticEmail:   synthetic,
		ConversationID:   conv.ConversationID,
		AgentID:          conv.AgentID,
		TranscriptFileID: transcriptFileID,
		AudioFileID:      audioFileID,
		StructuredJSON:   marshalOrEmpty(draft.StructuredFields, "{}"),
		FlagsJSON:        marshalOrEmpty(draft.Flags, "{}"),
	}

	created, err := ing.store.UpsertCandidate(candidate)
	if err != nil {
		ing.audit(conv, false, err.Error())
		return nil, fmt.Errorf("upserting candidate for conversation %s: %w", conv.ConversationID, err)
	}

	strengths, concerns := splitFlags(draft.Flags)
	interview := &storage.Interview{
		ID:             uuid.New().String(),
		CandidateID:    candidate.ID,
		ConversationID: conv.ConversationID,
		AgentID:        conv.AgentID,
		Score:          draft.OverallScore,
		ScorecardJSON:  marshalOrEmpty(draft.SubScores, "{}"),
		StrengthsJSON:  marshalOrEmpty(strengths, "[]"),
		ConcernsJSON:   marshalOrEmpty(concerns, "[]"),
		DurationSecs:   conv.DurationSecs,
	}
	if err := ing.store.CreateInterview(interview); err != nil {
		ing.audit(conv, false, err.Error())
		return nil, fmt.Errorf("creating interview for conversation %s: %w", conv.ConversationID, err)
	}

	action := ActionUpdated
	if created {
		action = ActionCreated
	}

	ing.audit(conv, true, string(action)+" candidate "+candidate.ID)

	ing.logger.Info("conversation ingested",
		zap.String("conversation_id", conv.ConversationID),
		zap.String("action", string(action)),
		zap.String("candidate_id", candidate.ID),
		zap.Bool("synthetic_email", synthetic),
	)

	if created && ing.broadcaster != nil {
		ing.broadcaster.Publish(events.CandidateCreated, map[string]interface{}{
			"candidate_id":    candidate.ID,
			"name":            candidate.Name,
			"email":           candidate.Email,
			"score":           candidate.Score,
			"conversation_id": conv.ConversationID,
		})
	}

	return &Result{
		Action:      action,
		CandidateID: candidate.ID,
		Email:       candidate.Email,
		Name:        candidate.Name,
		Synthetic:   synthetic,
		Score:       candidate.Score,
	}, nil
}

func (ing *Ingestor) audit(conv *elevenlabs.Conversation, success bool, detail string) {
	entry := &storage.AuditLog{
		ID:             uuid.New().String(),
		ConversationID: conv.ConversationID,
		AgentID:        conv.AgentID,
		Action:         "ingest",
		Success:        success,
		Detail:         detail,
	}
	if err := ing.store.CreateAuditLog(entry); err != nil {
		ing.logger.Warn("writing audit log failed",
			zap.String("conversation_id", conv.ConversationID),
			zap.Error(err),
		)
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SyntheticEmail mints a per-conversation-unique placeholder address for
// candidates whose real email could not be mined.
func SyntheticEmail(name, conversationID string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "candidate"
	}

	suffix := conversationID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	return fmt.Sprintf("%s.%s@internal.temp", slug, suffix)
}

// IsSyntheticEmail recognizes addresses minted by SyntheticEmail.
func IsSyntheticEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@internal.temp")
}

func marshalOrEmpty(v interface{}, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}

func splitFlags(flags map[string]bool) ([]string, []string) {
	var strengths, concerns []string
	for flag, ok := range flags {
		if ok {
			strengths = append(strengths, flag)
		} else {
			concerns = append(concerns, flag)
		}
	}
	// Map iteration order is random; keep output deterministic.
	sort.Strings(strengths)
	sort.Strings(concerns)
	return strengths, concerns
}
