package pipelines

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation reasons.
const (
	ReasonMatches      = "Filename matches H1 heading pattern"
	ReasonNoHyphen     = "Filename should use hyphen separation"
	ReasonTooFewWords  = "Filename doesn't contain enough words from the H1 heading"
	minMatchingWords   = 2
	minHeadingWordSize = 3
)

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	stopWords   = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
		"of": true, "for": true, "in": true, "on": true, "to": true, "with": true,
	}
)

// ValidateFilename reports whether name mirrors heading: at least two significant
// heading words appear in the name and the name is hyphen-separated.
func ValidateFilename(name, heading string) (bool, string) {
	nameWords := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(name), -1) {
		nameWords[w] = true
	}
	matched := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(heading), -1) {
		if stopWords[w] || utf8.RuneCountInString(w) < minHeadingWordSize {
			continue
		}
		if nameWords[w] {
			matched[w] = true
		}
	}

	hyphenated := strings.Contains(name, "-")
	switch {
	case len(matched) >= minMatchingWords && hyphenated:
		return true, ReasonMatches
	case !hyphenated:
		return false, ReasonNoHyphen
	default:
		return false, ReasonTooFewWords
	}
}

// EnsureOutputDir creates and returns <base>/<slug>.
func EnsureOutputDir(base, slug string) (string, error) {
	dir := filepath.Join(base, slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir for %s: %w", slug, err)
	}
	return dir, nil
}

// uniquePath returns dir/stem.ext, or dir/stem-N.ext for the first N >= 1 that does not exist.
func uniquePath(dir, stem, ext string) string {
	candidate := filepath.Join(dir, stem+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
