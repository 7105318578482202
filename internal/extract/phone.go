package extract

import (
	"context"
	"regexp"
	"strings"
)

// Matches 10-digit US numbers in common formattings: 5551234567,
// 555-123-4567, (555) 123-4567, 555.123.4567, optionally with a leading 1.
var phonePattern = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone strips formatting and prefixes the US country code when the
// number is exactly 10 digits. Returns false when the digits don't form a
// plausible US number.
func NormalizePhone(raw string) (string, bool) {
	digits := nonDigits.ReplaceAllString(raw, "")

	switch {
	case len(digits) == 10:
		return "+1" + digits, true
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits, true
	default:
		return "", false
	}
}

func acceptPhone(value string) (string, bool) {
	return NormalizePhone(value)
}

// phonePatternStrategy mines candidate utterances for a phone number.
type phonePatternStrategy struct{}

func (phonePatternStrategy) Name() string { return "phone_pattern" }

func (phonePatternStrategy) Extract(_ context.Context, src *Source) (string, bool) {
	for _, turn := range src.CandidateTurns {
		match := phonePattern.FindString(turn)
		if match == "" {
			continue
		}
		if phone, ok := NormalizePhone(match); ok {
			return phone, true
		}
	}
	return "", false
}
