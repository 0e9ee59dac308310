// Package naming proposes descriptive, hyphen-separated file names from a document heading.
package naming

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Suggester proposes a file name stem (no extension) for a document.
type Suggester interface {
	Suggest(ctx context.Context, heading, currentName string) (string, error)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, heading, currentName string) (string, error)

func (f SuggesterFunc) Suggest(ctx context.Context, heading, currentName string) (string, error) {
	return f(ctx, heading, currentName)
}

var (
	wordPattern    = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	invalidPattern = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)
)

var heuristicStopWords = map[string]bool{"the": true, "and": true, "for": true, "with": true}

// HeuristicName lowercases the heading and joins its first four significant words with hyphens.
func HeuristicName(heading string) string {
	words := wordPattern.FindAllString(strings.ToLower(heading), -1)
	kept := make([]string, 0, 4)
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 || heuristicStopWords[w] {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 4 {
			break
		}
	}
	return strings.Join(kept, "-")
}

// Sanitize strips everything except letters, digits, underscores and hyphens.
func Sanitize(name string) string {
	return invalidPattern.ReplaceAllString(strings.TrimSpace(name), "")
}

// Heuristic is a Suggester that never calls out.
type Heuristic struct{}

func (Heuristic) Suggest(_ context.Context, heading, _ string) (string, error) {
	return HeuristicName(heading), nil
}

// Fallback wraps a primary suggester and degrades to HeuristicName when it fails
// or returns nothing usable. Its output is always sanitized and it never errors.
type Fallback struct {
	primary Suggester
	logger  *zap.Logger
}

// WithFallback wraps primary. A nil primary always uses the heuristic.
func WithFallback(primary Suggester, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, logger: logger}
}

func (f *Fallback) Suggest(ctx context.Context, heading, currentName string) (string, error) {
	if f.primary != nil {
		name, err := f.primary.Suggest(ctx, heading, currentName)
		if err == nil {
			if clean := Sanitize(name); clean != "" {
				return clean, nil
			}
			f.logger.Warn("filename suggestion was empty after sanitizing", zap.String("raw", name))
		} else {
			f.logger.Warn("filename suggestion failed, using heuristic", zap.Error(err))
		}
	}
	return HeuristicName(heading), nil
}
