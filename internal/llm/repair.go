package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// RepairStats records what it took to turn a completion into valid JSON.
type RepairStats struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	Strategies    []string      `json:"strategies,omitempty"`
	RepairTime    time.Duration `json:"repair_time"`
	WasRepaired   bool          `json:"was_repaired"`
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// ParseJSON extracts the JSON portion of a model completion, repairs it
// if malformed, and unmarshals it into target. Models routinely wrap
// JSON in prose or code fences, drop closing braces mid-stream, or leave
// trailing commas; all of those are recoverable here.
func ParseJSON(raw string, target any) (RepairStats, error) {
	start := time.Now()
	stats := RepairStats{OriginalBytes: len(raw)}

	candidate := extractJSON(raw)
	if candidate == "" {
		return stats, fmt.Errorf("no JSON found in completion")
	}

	if json.Unmarshal([]byte(candidate), target) == nil {
		stats.RepairedBytes = len(candidate)
		stats.RepairTime = time.Since(start)
		return stats, nil
	}
	stats.WasRepaired = true

	// Cheap local fixes first.
	if trailingCommaRe.MatchString(candidate) {
		candidate = trailingCommaRe.ReplaceAllString(candidate, "$1")
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}
	if closed := closeUnbalanced(candidate); closed != candidate {
		candidate = closed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if json.Unmarshal([]byte(candidate), target) == nil {
		stats.RepairedBytes = len(candidate)
		stats.RepairTime = time.Since(start)
		logRepair(stats)
		return stats, nil
	}

	// Library fallback for everything the local strategies miss.
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err == nil {
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		if json.Unmarshal([]byte(repaired), target) == nil {
			stats.RepairedBytes = len(repaired)
			stats.RepairTime = time.Since(start)
			logRepair(stats)
			return stats, nil
		}
	}

	stats.RepairedBytes = len(candidate)
	stats.RepairTime = time.Since(start)
	return stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
}

func logRepair(stats RepairStats) {
	log.Debug().
		Strs("strategies", stats.Strategies).
		Int("original_bytes", stats.OriginalBytes).
		Int("repaired_bytes", stats.RepairedBytes).
		Dur("repair_time", stats.RepairTime).
		Msg("completion JSON repaired")
}

// extractJSON pulls the JSON body out of a completion that may wrap it
// in explanation text or markdown code fences.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var inner []string
		inFence := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = !inFence
				continue
			}
			if inFence {
				inner = append(inner, line)
			}
		}
		if len(inner) > 0 {
			return strings.TrimSpace(strings.Join(inner, "\n"))
		}
	}

	// Fall back to the first balanced object or array.
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	open := raw[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}

// closeUnbalanced appends the closing braces and brackets a truncated
// completion is missing, innermost first.
func closeUnbalanced(s string) string {
	var stack []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == s[i] {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
