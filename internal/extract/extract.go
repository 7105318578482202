// Package extract mines candidate identity and scorecard data out of raw
// interview conversations. Every field is produced by an ordered chain of
// independent strategies evaluated first-match-wins, so each heuristic can be
// tested and replaced on its own.
package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
)

// Draft is the ephemeral extraction result handed to ingest. A field is
// either present or empty; confidence is not modeled.
type Draft struct {
	Name  string
	Email string
	Phone string

	// OverallScore is valid only when HasScore is true.
	OverallScore int
	HasScore     bool

	SubScores        map[string]int
	StructuredFields map[string]string
	Flags            map[string]bool
}

// Source is the canonical view of one conversation that strategies read.
// Metadata keys are already folded to snake_case by the provider client.
type Source struct {
	Metadata       map[string]interface{}
	Analysis       map[string]interface{}
	Turns          []elevenlabs.TranscriptTurn
	CandidateTurns []string
}

// Strategy extracts a single field value from a source, reporting whether it
// found one.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, src *Source) (string, bool)
}

// Extractor runs the per-field strategy chains.
type Extractor struct {
	nameChain  []Strategy
	emailChain []Strategy
	phoneChain []Strategy
	logger     *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithRescue appends an extra strategy to the name and email chains. It runs
// only after every built-in heuristic has come up empty.
func WithRescue(name, email Strategy) Option {
	return func(e *Extractor) {
		if name != nil {
			e.nameChain = append(e.nameChain, name)
		}
		if email != nil {
			e.emailChain = append(e.emailChain, email)
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		nameChain: []Strategy{
			&metadataStrategy{field: "name", keys: nameMetadataKeys},
			&statedNameStrategy{},
			&askedNameStrategy{},
			&leadingNameStrategy{},
		},
		emailChain: []Strategy{
			&metadataStrategy{field: "email", keys: emailMetadataKeys, validate: acceptEmail},
			&emailPatternStrategy{},
			&spokenEmailStrategy{},
		},
		phoneChain: []Strategy{
			&metadataStrategy{field: "phone", keys: phoneMetadataKeys, validate: acceptPhone},
			&phonePatternStrategy{},
		},
		logger: logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract produces a draft from a conversation. It never fails: malformed
// input degrades to absent fields, and identical input always yields an
// identical draft.
func (e *Extractor) Extract(ctx context.Context, conv *elevenlabs.Conversation) *Draft {
	src := NewSource(conv)

	draft := &Draft{
		Name:  e.runChain(ctx, "name", e.nameChain, src),
		Email: e.runChain(ctx, "email", e.emailChain, src),
		Phone: e.runChain(ctx, "phone", e.phoneChain, src),
	}

	draft.OverallScore, draft.SubScores, draft.HasScore = extractScores(src)
	draft.StructuredFields, draft.Flags = extractStructured(src)

	return draft
}

func (e *Extractor) runChain(ctx context.Context, field string, chain []Strategy, src *Source) string {
	for _, strategy := range chain {
		value, ok := strategy.Extract(ctx, src)
		if !ok {
			continue
		}

		if e.logger != nil {
			e.logger.Debug("field extracted",
				zap.String("field", field),
				zap.String("strategy", strategy.Name()),
			)
		}
		return value
	}
	return ""
}

// NewSource builds the canonical strategy input from a conversation.
func NewSource(conv *elevenlabs.Conversation) *Source {
	return &Source{
		Metadata:       conv.Metadata,
		Analysis:       conv.Analysis,
		Turns:          conv.Transcript,
		CandidateTurns: conv.CandidateTurns(),
	}
}

// lookupString reads the first non-blank string value under any of the given
// keys, checking conversation metadata before analysis results.
func (s *Source) lookupString(keys ...string) (string, bool) {
	for _, m := range []map[string]interface{}{s.Metadata, s.Analysis} {
		for _, key := range keys {
			if v, ok := scalarString(lookupNested(m, key)); ok {
				return v, true
			}
		}
	}
	return "", false
}

// lookupNumber reads the first numeric value under any of the given keys.
func (s *Source) lookupNumber(keys ...string) (float64, bool) {
	for _, m := range []map[string]interface{}{s.Metadata, s.Analysis} {
		for _, key := range keys {
			switch v := lookupNested(m, key).(type) {
			case float64:
				return v, true
			case int:
				return float64(v), true
			case int64:
				return float64(v), true
			}
		}
	}
	return 0, false
}

// lookupNested resolves a key in m, also descending one level into the
// provider's data_collection_results wrapper objects which carry a "value"
// field per collected datum.
func lookupNested(m map[string]interface{}, key string) interface{} {
	if m == nil {
		return nil
	}

	if v, ok := m[key]; ok {
		return unwrapValue(v)
	}

	if results, ok := m["data_collection_results"].(map[string]interface{}); ok {
		if v, ok := results[key]; ok {
			return unwrapValue(v)
		}
	}

	return nil
}

func unwrapValue(v interface{}) interface{} {
	if wrapper, ok := v.(map[string]interface{}); ok {
		if inner, ok := wrapper["value"]; ok {
			return inner
		}
	}
	return v
}

func scalarString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// metadataStrategy reads a field straight from structured metadata under a
// list of alternate key spellings.
type metadataStrategy struct {
	field    string
	keys     []string
	validate func(string) (string, bool)
}

func (m *metadataStrategy) Name() string { return m.field + "_metadata" }

func (m *metadataStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	value, ok := src.lookupString(m.keys...)
	if !ok {
		return "", false
	}
	if m.validate != nil {
		return m.validate(value)
	}
	return value, true
}

var (
	nameMetadataKeys  = []string{"candidate_name", "name", "full_name", "caller_name"}
	emailMetadataKeys = []string{"candidate_email", "email", "contact_email", "caller_email"}
	phoneMetadataKeys = []string{"candidate_phone", "phone", "phone_number", "caller_phone", "caller_id"}
)
