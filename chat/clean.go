// Package chat orchestrates companion conversations: session state,
// display cleanup, and daily sentiment analysis.
package chat

import (
	"regexp"
	"strings"

	"github.com/lexcodex/mindwell/routine"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// StripRoutineMarkers removes the routine start/end markers from a
// message while preserving its layout. The duration tag is stripped
// earlier, when the confirmation is processed.
func StripRoutineMarkers(content string) string {
	content = strings.ReplaceAll(content, routine.RoutineStartTag, "")
	content = strings.ReplaceAll(content, routine.RoutineEndTag, "")
	return strings.TrimSpace(content)
}

// CleanForDisplay flattens a message into a single displayable line:
// markers removed, streaming artifacts ("undefined", stuttered words)
// dropped, whitespace squeezed.
func CleanForDisplay(content string) string {
	content = StripRoutineMarkers(content)
	content = strings.ReplaceAll(content, "undefined", "")
	content = whitespaceRe.ReplaceAllString(content, " ")
	return collapseStutters(strings.TrimSpace(content))
}

// collapseStutters drops immediately repeated words, a streaming
// artifact ("take a a breath"). Comparison is case-insensitive; the
// first occurrence wins.
func collapseStutters(content string) string {
	fields := strings.Fields(content)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(out) > 0 && strings.EqualFold(f, out[len(out)-1]) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
