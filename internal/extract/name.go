package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/hireloop/interview-intake/internal/elevenlabs"
)

var (
	statedNamePattern = regexp.MustCompile(`(?:[Mm]y name is|I['’]?m|I am|[Tt]his is)\s+([A-Z][a-zA-Z'’\-]*(?:\s+[A-Z][a-zA-Z'’\-]*){0,2})`)

	// A question from the interviewer asking for the candidate's name.
	nameQuestionPattern = regexp.MustCompile(`(?i)\bname\b[^?]*\?`)

	leadingCapsPattern = regexp.MustCompile(`^([A-Z][a-zA-Z'’\-]*(?:\s+[A-Z][a-zA-Z'’\-]*){0,2})`)

	answerPrefixPattern = regexp.MustCompile(`(?i)^(?:uh,?\s+|um,?\s+|well,?\s+|yeah,?\s+|sure,?\s+|it['’]?s\s+|my name is\s+|i['’]?m\s+|i am\s+|this is\s+)`)

	digitPattern = regexp.MustCompile(`\d`)
)

// Tokens that show up capitalized at the start of utterances but are never
// part of a person's name.
var nonNameTokens = map[string]struct{}{
	"yes": {}, "no": {}, "yeah": {}, "hello": {}, "hi": {}, "hey": {},
	"okay": {}, "ok": {}, "thanks": {}, "thank": {}, "sure": {},
	"good": {}, "great": {}, "sorry": {}, "speaking": {}, "calling": {},
	"i": {}, "the": {}, "a": {}, "so": {}, "uh": {}, "um": {}, "well": {},
	"interview": {}, "interviewer": {}, "agent": {}, "conversation": {},
}

// isLikelyName rejects matches that are question fragments, contain digits,
// or start with known non-name tokens.
func isLikelyName(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || strings.Contains(candidate, "?") {
		return false
	}
	if digitPattern.MatchString(candidate) {
		return false
	}

	words := strings.Fields(candidate)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, word := range words {
		if _, bad := nonNameTokens[strings.ToLower(strings.Trim(word, ".,!"))]; bad {
			return false
		}
	}
	return true
}

// statedNameStrategy matches explicit self-introductions such as
// "my name is Dana" or "I'm Dana Smith".
type statedNameStrategy struct{}

func (statedNameStrategy) Name() string { return "name_stated" }

func (statedNameStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for _, turn := range src.CandidateTurns {
		match := statedNamePattern.FindStringSubmatch(turn)
		if match == nil {
			continue
		}
		if name := cleanName(match[1]); isLikelyName(name) {
			return name, true
		}
	}
	return "", false
}

// askedNameStrategy takes the candidate's reply to an interviewer question
// that asks for their name.
type askedNameStrategy struct{}

func (askedNameStrategy) Name() string { return "name_asked" }

func (askedNameStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for i, turn := range src.Turns {
		if turn.Role != elevenlabs.RoleAgent || !nameQuestionPattern.MatchString(turn.Message) {
			continue
		}

		for _, answer := range src.Turns[i+1:] {
			if answer.Role == elevenlabs.RoleAgent {
				break
			}
			if name, ok := nameFromAnswer(answer.Message); ok {
				return name, true
			}
		}
	}
	return "", false
}

// leadingNameStrategy falls back to the leading capitalized words of the
// candidate's first substantive utterance.
type leadingNameStrategy struct{}

func (leadingNameStrategy) Name() string { return "name_leading" }

func (leadingNameStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for _, turn := range src.CandidateTurns {
		if len(strings.Fields(turn)) < 2 {
			continue
		}
		return nameFromAnswer(turn)
	}
	return "", false
}

func nameFromAnswer(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	for {
		stripped := answerPrefixPattern.ReplaceAllString(answer, "")
		if stripped == answer {
			break
		}
		answer = stripped
	}

	match := leadingCapsPattern.FindStringSubmatch(answer)
	if match == nil {
		return "", false
	}

	name := cleanName(match[1])
	if !isLikelyName(name) {
		return "", false
	}
	return name, true
}

func cleanName(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".,!")
}
