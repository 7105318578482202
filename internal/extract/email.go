package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// "jane dot doe at gmail dot com" spoken by the candidate.
	spokenEmailPattern = regexp.MustCompile(`(?i)\b([a-z0-9]+(?:\s+dot\s+[a-z0-9]+)*)\s+at\s+([a-z0-9\-]+(?:\s+dot\s+[a-z0-9\-]+)*)\s+dot\s+([a-z]{2,})\b`)
)

// Substrings that mark an address as a recording-pipeline artifact rather
// than a real inbox.
var disallowedEmailParts = []string{
	"conversation-",
	"conv_",
	"@internal.temp",
	"@example.com",
	"@placeholder",
}

// IsRealEmail reports whether the address looks deliverable and is not a
// pipeline artifact. Ingest uses the same check to decide between the
// extracted address and a synthetic one.
func IsRealEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !emailPattern.MatchString(email) {
		return false
	}
	for _, part := range disallowedEmailParts {
		if strings.Contains(email, part) {
			return false
		}
	}
	return true
}

func acceptEmail(value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if !IsRealEmail(value) {
		return "", false
	}
	return value, true
}

// emailPatternStrategy scans candidate utterances for a literal address.
type emailPatternStrategy struct{}

func (emailPatternStrategy) Name() string { return "email_pattern" }

func (emailPatternStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for _, turn := range src.CandidateTurns {
		for _, match := range emailPattern.FindAllString(turn, -1) {
			if email, ok := acceptEmail(match); ok {
				return email, true
			}
		}
	}
	return "", false
}

// spokenEmailStrategy reconstructs an address from the "x at y dot com"
// phrasing transcription produces when the candidate dictates their email.
type spokenEmailStrategy struct{}

func (spokenEmailStrategy) Name() string { return "email_spoken" }

func (spokenEmailStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for _, turn := range src.CandidateTurns {
		match := spokenEmailPattern.FindStringSubmatch(turn)
		if match == nil {
			continue
		}

		local := collapseSpokenDots(match[1])
		domain := collapseSpokenDots(match[2])
		email := strings.ToLower(fmt.Sprintf("%s@%s.%s", local, domain, match[3]))

		if reconstructed, ok := acceptEmail(email); ok {
			return reconstructed, true
		}
	}
	return "", false
}

var spokenDot = regexp.MustCompile(`(?i)\s+dot\s+`)

func collapseSpokenDots(s string) string {
	return strings.ReplaceAll(spokenDot.ReplaceAllString(s, "."), " ", "")
}
