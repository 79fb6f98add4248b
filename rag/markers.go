package rag

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	chunkSeparator        = "- ---"
	beforeRecursionPrefix = "- BEFORE RECURSION #"
)

var chunkMarker = regexp.MustCompile(`- Chunk \d+/\d+`)

func chunkMarkerLine(i, n int) string { return fmt.Sprintf("- Chunk %d/%d", i, n) }

func beforeRecursionLine(depth int) string { return fmt.Sprintf("%s %d", beforeRecursionPrefix, depth) }

// StripMarkers removes chunk separators, chunk progress lines and everything from
// a before-recursion line onward. Lines are right-trimmed and blank lines dropped,
// so applying it twice gives the same text as applying it once.
func StripMarkers(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, beforeRecursionPrefix) {
			break
		}
		if trimmed == chunkSeparator || chunkMarker.MatchString(l) {
			continue
		}
		l = strings.TrimRight(l, " \t\r")
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// mustBeClean panics if a marker survived StripMarkers; that can only be a bug.
func mustBeClean(text string) {
	for _, l := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == chunkSeparator:
			panic("summary cleanup left a chunk separator")
		case chunkMarker.MatchString(l):
			panic("summary cleanup left a chunk marker")
		case strings.HasPrefix(trimmed, beforeRecursionPrefix):
			panic("summary cleanup left a recursion block")
		}
	}
}

// ParseSummaryMarkdown rebuilds per-chunk summaries from rendered markdown. Text
// without chunk markers becomes a single chunk.
func ParseSummaryMarkdown(md string) []string {
	var chunks []string
	var cur []string
	flush := func() {
		if body := StripMarkers(strings.Join(cur, "\n")); body != "" {
			chunks = append(chunks, body)
		}
		cur = nil
	}
	for _, l := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, beforeRecursionPrefix) {
			break
		}
		if chunkMarker.MatchString(l) {
			flush()
			continue
		}
		cur = append(cur, l)
	}
	flush()
	return chunks
}
