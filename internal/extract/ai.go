package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Generator produces a completion for a prompt. Satisfied by the gemini
// package.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// rescueStrategy asks a language model to pull a single field out of the
// transcript. It sits at the very end of a chain, so it only ever runs when
// all deterministic heuristics returned absent, and it is wired in only when
// explicitly enabled in configuration.
type rescueStrategy struct {
	field     string
	generator Generator
	logger    *zap.Logger
}

// NewNameRescue returns a model-backed fallback strategy for the name field.
func NewNameRescue(generator Generator, logger *zap.Logger) Strategy {
	return &rescueStrategy{field: "name", generator: generator, logger: logger}
}

// NewEmailRescue returns a model-backed fallback strategy for the email field.
func NewEmailRescue(generator Generator, logger *zap.Logger) Strategy {
	return &rescueStrategy{field: "email", generator: generator, logger: logger}
}

func (r *rescueStrategy) Name() string { return r.field + "_ai_rescue" }

func (r *rescueStrategy) Extract(ctx context.Context, src *Source) (string, bool) {
	if len(src.CandidateTurns) == 0 {
		return "", false
	}

	prompt := "Below are utterances spoken by a job candidate during a phone interview.\n" +
		"Reply with only the candidate's " + r.field + ", or the single word NONE if it is not stated.\n\n" +
		strings.Join(src.CandidateTurns, "\n")

	answer, err := r.generator.GenerateContent(ctx, prompt)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("ai rescue failed", zap.String("field", r.field), zap.Error(err))
		}
		return "", false
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, "NONE") {
		return "", false
	}

	switch r.field {
	case "email":
		return acceptEmail(answer)
	default:
		if !isLikelyName(answer) {
			return "", false
		}
		return cleanName(answer), true
	}
}
