package storage

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrationsApplied(t *testing.T) {
	store := newTestStore(t)

	versions, err := store.AppliedMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Fatalf("expected migration 1 to be applied, got %v", versions)
	}
}

func TestUpsertCandidateCreateThenUpdate(t *testing.T) {
	store := newTestStore(t)

	candidate := &Candidate{
		ID:             "cand_1",
		Name:           "Dana Smith",
		Email:          "dana@real.com",
		Phone:          "+15551234567",
		Score:          80,
		ConversationID: "conv_1",
		AgentID:        "agent_1",
	}

	created, err := store.UpsertCandidate(candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected first upsert to create")
	}

	again := &Candidate{
		ID:             "cand_ignored",
		Name:           "",
		Email:          "dana@real.com",
		Phone:          "",
		Score:          91,
		ConversationID: "conv_2",
		AgentID:        "agent_1",
	}

	created, err = store.UpsertCandidate(again)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected second upsert to update")
	}
	if again.ID != "cand_1" {
		t.Fatalf("expected existing id to be returned, got %s", again.ID)
	}
	if again.IngestCount != 2 {
		t.Fatalf("expected ingest count 2, got %d", again.IngestCount)
	}

	stored, err := store.GetCandidateByEmail("dana@real.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Name != "Dana Smith" {
		t.Fatalf("expected blank update to keep existing name, got %q", stored.Name)
	}
	if stored.Phone != "+15551234567" {
		t.Fatalf("expected blank update to keep existing phone, got %q", stored.Phone)
	}
	if stored.Score != 91 {
		t.Fatalf("expected score to be overwritten, got %d", stored.Score)
	}
	if stored.ConversationID != "conv_2" {
		t.Fatalf("expected conversation id to be overwritten, got %s", stored.ConversationID)
	}
}

func TestUpsertCandidateNonBlankWins(t *testing.T) {
	store := newTestStore(t)

	first := &Candidate{ID: "cand_1", Email: "dana@real.com", Name: ""}
	if _, err := store.UpsertCandidate(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := &Candidate{ID: "cand_2", Email: "dana@real.com", Name: "Dana Smith", Phone: "+15551234567"}
	if _, err := store.UpsertCandidate(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := store.GetCandidateByEmail("dana@real.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Name != "Dana Smith" || stored.Phone != "+15551234567" {
		t.Fatalf("expected non-blank fields to win, got %+v", stored)
	}
}

func TestUpsertCandidateStageNeverTouched(t *testing.T) {
	store := newTestStore(t)

	candidate := &Candidate{ID: "cand_1", Email: "dana@real.com", Name: "Dana"}
	if _, err := store.UpsertCandidate(candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidate.Stage != StageInterviewed {
		t.Fatalf("expected default stage, got %q", candidate.Stage)
	}

	if err := store.UpdateCandidateStage("cand_1", "offer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.UpsertCandidate(&Candidate{ID: "cand_2", Email: "dana@real.com", Name: "Dana"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := store.GetCandidateByEmail("dana@real.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Stage != "offer" {
		t.Fatalf("expected replay to leave advanced stage alone, got %q", stored.Stage)
	}
}

func TestGetCandidateNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetCandidateByEmail("absent@none.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetCandidateByConversationID("conv_absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateCandidateStage("cand_absent", "offer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCandidatesWithConversation(t *testing.T) {
	store := newTestStore(t)

	with := &Candidate{ID: "cand_1", Email: "a@b.com", ConversationID: "conv_1"}
	without := &Candidate{ID: "cand_2", Email: "c@d.com"}
	for _, c := range []*Candidate{with, without} {
		if _, err := store.UpsertCandidate(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := store.ListCandidatesWithConversation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "cand_1" {
		t.Fatalf("expected only the candidate with a conversation, got %+v", results)
	}
}

func TestInterviews(t *testing.T) {
	store := newTestStore(t)

	first := &Interview{
		ID:             "int_1",
		CandidateID:    "cand_1",
		ConversationID: "conv_1",
		AgentID:        "agent_1",
		Score:          80,
		DurationSecs:   300,
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}
	second := &Interview{
		ID:             "int_2",
		CandidateID:    "cand_1",
		ConversationID: "conv_1",
		AgentID:        "agent_1",
		Score:          85,
		DurationSecs:   420,
	}

	for _, i := range []*Interview{first, second} {
		if err := store.CreateInterview(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := store.CountInterviewsByConversation("conv_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 interviews, got %d", n)
	}

	latest, err := store.LatestInterviewByConversation("conv_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != "int_2" || latest.DurationSecs != 420 {
		t.Fatalf("expected the most recent interview, got %+v", latest)
	}

	if _, err := store.LatestInterviewByConversation("conv_absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTrackingLifecycle(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetTracking("agent_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := store.UpsertTracking(&Tracking{
		AgentID:         "agent_1",
		IsActive:        true,
		LastProcessedAt: start,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cursor := start.Add(time.Hour)
	lastConv := "conv_9"
	if err := store.UpdateTracking("agent_1", TrackingUpdate{
		LastProcessedAt:    &cursor,
		LastConversationID: &lastConv,
		AddProcessed:       3,
		AddFailed:          1,
		ClearError:         true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracking, err := store.GetTracking("agent_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tracking.LastProcessedAt.Equal(cursor) {
		t.Fatalf("expected cursor %v, got %v", cursor, tracking.LastProcessedAt)
	}
	if tracking.LastConversationID != "conv_9" {
		t.Fatalf("unexpected last conversation id: %s", tracking.LastConversationID)
	}
	if tracking.TotalProcessed != 3 || tracking.TotalFailed != 1 {
		t.Fatalf("unexpected totals: %+v", tracking)
	}

	errMsg := "bad status: 429"
	errAt := cursor.Add(time.Minute)
	if err := store.UpdateTracking("agent_1", TrackingUpdate{
		LastError:   &errMsg,
		LastErrorAt: &errAt,
		AddFailed:   1,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracking, err = store.GetTracking("agent_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracking.LastError != errMsg {
		t.Fatalf("expected error to be recorded, got %q", tracking.LastError)
	}
	if tracking.TotalFailed != 2 {
		t.Fatalf("expected total failed 2, got %d", tracking.TotalFailed)
	}
	if !tracking.LastProcessedAt.Equal(cursor) {
		t.Fatalf("expected untouched cursor, got %v", tracking.LastProcessedAt)
	}

	if err := store.UpdateTracking("agent_absent", TrackingUpdate{AddProcessed: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditLog(t *testing.T) {
	store := newTestStore(t)

	entries := []*AuditLog{
		{ID: "audit_1", ConversationID: "conv_1", AgentID: "agent_1", Action: "candidate-created", Success: true, CreatedAt: time.Now().UTC().Add(-time.Minute)},
		{ID: "audit_2", ConversationID: "conv_2", AgentID: "agent_1", Action: "ingest-failed", Success: false, Detail: "insufficient data"},
	}
	for _, entry := range entries {
		if err := store.CreateAuditLog(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := store.ListAuditLogs(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(results))
	}
	if results[0].ID != "audit_2" {
		t.Fatalf("expected newest first, got %s", results[0].ID)
	}
}
