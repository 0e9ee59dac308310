// Package utils provides shared utilities for text and logging.
package utils

import (
	"regexp"
	"strings"
)

const ellipsis = "..."

// Truncate shortens s to at most maxLen runes, the last three being "..." when truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	if maxLen <= len(ellipsis) {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-len(ellipsis)]) + ellipsis
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename reduces name to its base and replaces runs of characters outside
// [A-Za-z0-9._-] with "_". An empty result becomes "document.pdf".
func SafeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_.")
	if name == "" {
		return "document.pdf"
	}
	return name
}
