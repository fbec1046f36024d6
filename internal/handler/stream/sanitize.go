package stream

import (
	"regexp"
	"strings"
)

// methodLine matches display lines that leak the engine's internal detection
// method, e.g. "Method: HYBRID" or "**Detection Method:** ML Model + LLM".
// Redaction is cosmetic, not a security control.
var methodLine = regexp.MustCompile(`(?i)^\s*(\*\*|__)?\s*(detection\s+)?method\s*(\*\*|__)?\s*[:：]`)

// sanitizeChunk drops method-label lines from a streamed chunk. Applied per
// chunk; the persisted reply is the concatenation of sanitized chunks.
func sanitizeChunk(chunk string) string {
	if !strings.Contains(strings.ToLower(chunk), "method") {
		return chunk
	}

	lines := strings.Split(chunk, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if methodLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
