package extract

import (
	"math"
	"strings"
)

var overallScoreKeys = []string{"overall_score", "total_score", "score"}

// subScoreKeys are the interview scorecard dimensions the agent collects.
var subScoreKeys = []string{
	"communication",
	"sales_aptitude",
	"motivation",
	"coachability",
	"professional_presence",
}

// extractScores returns the overall score (explicit value preferred, mean of
// sub-scores otherwise) plus whatever sub-scores are present. HasScore is
// false when neither exists.
func extractScores(src *Source) (int, map[string]int, bool) {
	subScores := make(map[string]int)
	for _, key := range subScoreKeys {
		if v, ok := src.lookupNumber(key, key+"_score"); ok {
			subScores[key] = clampScore(int(math.Round(v)))
		}
	}

	if v, ok := src.lookupNumber(overallScoreKeys...); ok {
		return clampScore(int(math.Round(v))), subScores, true
	}

	if len(subScores) == 0 {
		return 0, subScores, false
	}

	sum := 0
	for _, v := range subScores {
		sum += v
	}
	mean := float64(sum) / float64(len(subScores))
	return clampScore(int(math.Round(mean))), subScores, true
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// extractStructured collects the remaining scalar metadata: string values
// become structured fields (market preferences, narrative answers), booleans
// become performance flags. Keys already consumed by identity or score
// extraction are skipped.
func extractStructured(src *Source) (map[string]string, map[string]bool) {
	consumed := make(map[string]struct{})
	for _, keys := range [][]string{nameMetadataKeys, emailMetadataKeys, phoneMetadataKeys, overallScoreKeys, subScoreKeys} {
		for _, key := range keys {
			consumed[key] = struct{}{}
			consumed[key+"_score"] = struct{}{}
		}
	}

	fields := make(map[string]string)
	flags := make(map[string]bool)

	for _, m := range []map[string]interface{}{src.Metadata, src.Analysis} {
		collectStructured(m, consumed, fields, flags)
		if results, ok := m["data_collection_results"].(map[string]interface{}); ok {
			collectStructured(results, consumed, fields, flags)
		}
	}

	return fields, flags
}

func collectStructured(m map[string]interface{}, consumed map[string]struct{}, fields map[string]string, flags map[string]bool) {
	for key, value := range m {
		if _, skip := consumed[key]; skip {
			continue
		}
		if key == "data_collection_results" {
			continue
		}

		switch v := unwrapValue(value).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				if _, exists := fields[key]; !exists {
					fields[key] = s
				}
			}
		case bool:
			if _, exists := flags[key]; !exists {
				flags[key] = v
			}
		}
	}
}
