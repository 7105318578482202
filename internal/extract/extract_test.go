package extract

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
)

func conversationWithTurns(turns ...elevenlabs.TranscriptTurn) *elevenlabs.Conversation {
	return &elevenlabs.Conversation{
		ConversationID: "conv_test",
		Transcript:     turns,
	}
}

func userTurn(message string) elevenlabs.TranscriptTurn {
	return elevenlabs.TranscriptTurn{Role: elevenlabs.RoleUser, Message: message}
}

func agentTurn(message string) elevenlabs.TranscriptTurn {
	return elevenlabs.TranscriptTurn{Role: elevenlabs.RoleAgent, Message: message}
}

func TestExtractStatedNameAndPhone(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(
		agentTurn("Thanks for joining. Could you introduce yourself?"),
		userTurn("Hi, I'm Dana, my number is 555-123-4567"),
	)

	draft := extractor.Extract(context.Background(), conv)

	if draft.Name != "Dana" {
		t.Fatalf("expected name Dana, got %q", draft.Name)
	}
	if draft.Phone != "+15551234567" {
		t.Fatalf("expected phone +15551234567, got %q", draft.Phone)
	}
	if draft.Email != "" {
		t.Fatalf("expected no email, got %q", draft.Email)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	extractor := New(zap.NewNop())
	conv := conversationWithTurns(
		userTurn("My name is Jordan Lee and you can reach me at jordan.lee@fastmail.com"),
	)

	first := extractor.Extract(context.Background(), conv)
	second := extractor.Extract(context.Background(), conv)

	if first.Name != second.Name || first.Email != second.Email || first.Phone != second.Phone {
		t.Fatalf("expected identical drafts, got %+v and %+v", first, second)
	}
	if first.Name != "Jordan Lee" {
		t.Fatalf("expected name Jordan Lee, got %q", first.Name)
	}
	if first.Email != "jordan.lee@fastmail.com" {
		t.Fatalf("expected literal email, got %q", first.Email)
	}
}

func TestMetadataWinsOverTranscript(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(
		userTurn("I'm Bob"),
	)
	conv.Metadata = map[string]interface{}{
		"candidate_name":  "Alice Chen",
		"candidate_email": "alice@chen.dev",
		"candidate_phone": "(555) 987-6543",
	}

	draft := extractor.Extract(context.Background(), conv)

	if draft.Name != "Alice Chen" {
		t.Fatalf("expected metadata name, got %q", draft.Name)
	}
	if draft.Email != "alice@chen.dev" {
		t.Fatalf("expected metadata email, got %q", draft.Email)
	}
	if draft.Phone != "+15559876543" {
		t.Fatalf("expected normalized metadata phone, got %q", draft.Phone)
	}
}

func TestAskedNameStrategy(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(
		agentTurn("Before we start, what is your name?"),
		userTurn("Uh, it's Maria Santos"),
	)

	draft := extractor.Extract(context.Background(), conv)
	if draft.Name != "Maria Santos" {
		t.Fatalf("expected Maria Santos, got %q", draft.Name)
	}
}

func TestNameRejectsQuestionAndDigits(t *testing.T) {
	cases := []string{
		"Is That Your Name?",
		"Agent 47",
		"Yes",
		"Hello There Again Friend",
	}
	for _, candidate := range cases {
		if isLikelyName(candidate) {
			t.Fatalf("expected %q to be rejected as a name", candidate)
		}
	}

	if !isLikelyName("Dana") {
		t.Fatalf("expected single-word name to be accepted")
	}
	if !isLikelyName("Jordan Lee-Smith") {
		t.Fatalf("expected hyphenated name to be accepted")
	}
}

func TestSpokenEmailReconstruction(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(
		userTurn("Sure, it's jane dot doe at gmail dot com"),
	)

	draft := extractor.Extract(context.Background(), conv)
	if draft.Email != "jane.doe@gmail.com" {
		t.Fatalf("expected reconstructed spoken email, got %q", draft.Email)
	}
}

func TestEmailRejectsPipelineArtifacts(t *testing.T) {
	cases := []string{
		"conversation-abc123@system.io",
		"conv_xyz@mail.com",
		"dana.12345678@internal.temp",
		"test@example.com",
		"someone@placeholder.io",
		"not-an-email",
		"",
	}
	for _, email := range cases {
		if IsRealEmail(email) {
			t.Fatalf("expected %q to be rejected", email)
		}
	}

	if !IsRealEmail("dana@realcompany.com") {
		t.Fatalf("expected real address to pass")
	}
}

func TestAgentTurnsNeverMined(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(
		agentTurn("You can always reach us at support@hireloop.io"),
		agentTurn("My name is Ava, I will be your interviewer"),
	)

	draft := extractor.Extract(context.Background(), conv)
	if draft.Email != "" {
		t.Fatalf("expected no email from agent turns, got %q", draft.Email)
	}
	if draft.Name != "" {
		t.Fatalf("expected no name from agent turns, got %q", draft.Name)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5551234567", "+15551234567", true},
		{"555-123-4567", "+15551234567", true},
		{"(555) 123-4567", "+15551234567", true},
		{"1-555-123-4567", "+15551234567", true},
		{"+1 555.123.4567", "+15551234567", true},
		{"12345", "", false},
		{"25551234567", "", false},
	}

	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizePhone(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExplicitOverallScorePreferred(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(userTurn("Hello"))
	conv.Analysis = map[string]interface{}{
		"overall_score": float64(88),
		"communication": float64(50),
		"motivation":    float64(60),
	}

	draft := extractor.Extract(context.Background(), conv)
	if !draft.HasScore || draft.OverallScore != 88 {
		t.Fatalf("expected explicit overall score 88, got %+v", draft)
	}
	if draft.SubScores["communication"] != 50 {
		t.Fatalf("expected sub-score to be kept, got %+v", draft.SubScores)
	}
}

func TestOverallScoreFallsBackToMean(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(userTurn("Hello"))
	conv.Analysis = map[string]interface{}{
		"communication":   float64(70),
		"motivation":      float64(81),
		"sales_aptitude":  float64(90),
		"irrelevant_note": "ignored",
	}

	draft := extractor.Extract(context.Background(), conv)
	if !draft.HasScore {
		t.Fatalf("expected a derived score")
	}
	// (70+81+90)/3 = 80.33 rounds to 80
	if draft.OverallScore != 80 {
		t.Fatalf("expected rounded mean 80, got %d", draft.OverallScore)
	}
}

func TestNoScoresMeansNoScore(t *testing.T) {
	extractor := New(zap.NewNop())

	draft := extractor.Extract(context.Background(), conversationWithTurns(userTurn("Hello")))
	if draft.HasScore {
		t.Fatalf("expected HasScore false with no score data")
	}
}

func TestScoreClampedToRange(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(userTurn("Hello"))
	conv.Analysis = map[string]interface{}{"overall_score": float64(240)}

	draft := extractor.Extract(context.Background(), conv)
	if draft.OverallScore != 100 {
		t.Fatalf("expected score clamped to 100, got %d", draft.OverallScore)
	}
}

func TestDataCollectionResultsUnwrapped(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns(userTurn("Hello"))
	conv.Analysis = map[string]interface{}{
		"data_collection_results": map[string]interface{}{
			"candidate_name": map[string]interface{}{"value": "Priya Raman"},
			"overall_score":  map[string]interface{}{"value": float64(73)},
			"market":         map[string]interface{}{"value": "Austin"},
			"wants_followup": map[string]interface{}{"value": true},
		},
	}

	draft := extractor.Extract(context.Background(), conv)
	if draft.Name != "Priya Raman" {
		t.Fatalf("expected name from collection results, got %q", draft.Name)
	}
	if draft.OverallScore != 73 {
		t.Fatalf("expected score 73, got %d", draft.OverallScore)
	}
	if draft.StructuredFields["market"] != "Austin" {
		t.Fatalf("expected structured field, got %+v", draft.StructuredFields)
	}
	if !draft.Flags["wants_followup"] {
		t.Fatalf("expected boolean flag, got %+v", draft.Flags)
	}
}

func TestMalformedInputDegrades(t *testing.T) {
	extractor := New(zap.NewNop())

	conv := conversationWithTurns()
	conv.Metadata = map[string]interface{}{
		"candidate_name": 42,
		"candidate_email": map[string]interface{}{
			"unexpected": "shape",
		},
	}

	draft := extractor.Extract(context.Background(), conv)
	if draft.Name != "" || draft.Email != "" {
		t.Fatalf("expected malformed metadata to yield empty fields, got %+v", draft)
	}
}

type stubStrategy struct {
	name  string
	value string
	ok    bool
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Extract(_ context.Context, _ *Source) (string, bool) {
	s.calls++
	return s.value, s.ok
}

func TestRescueRunsOnlyAfterHeuristicsFail(t *testing.T) {
	rescue := &stubStrategy{name: "name_rescue", value: "Rescued Name", ok: true}
	extractor := New(zap.NewNop(), WithRescue(rescue, nil))

	conv := conversationWithTurns(userTurn("My name is Dana"))
	draft := extractor.Extract(context.Background(), conv)

	if draft.Name != "Dana" {
		t.Fatalf("expected heuristic name, got %q", draft.Name)
	}
	if rescue.calls != 0 {
		t.Fatalf("expected rescue to be skipped, got %d calls", rescue.calls)
	}

	draft = extractor.Extract(context.Background(), conversationWithTurns(userTurn("mumble mumble")))
	if draft.Name != "Rescued Name" {
		t.Fatalf("expected rescue name, got %q", draft.Name)
	}
	if rescue.calls != 1 {
		t.Fatalf("expected exactly one rescue call, got %d", rescue.calls)
	}
}
