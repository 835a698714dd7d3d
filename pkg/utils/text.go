// Package utils provides shared utilities for text, vector math, and logging.
package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most maxRunes runes for display, appending "..." when cut.
// Runs of whitespace (including newlines) collapse to one space. A non-positive maxRunes
// only collapses whitespace.
func Truncate(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return strings.TrimRight(s[:i], " ") + "..."
		}
		n++
	}
	return s
}
