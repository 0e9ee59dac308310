// Package pipelines runs identify/resolve plugins over a processed document.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrResolveNotSupported is the cause carried by a NotSupported resolve outcome.
var ErrResolveNotSupported = errors.New("resolve step not implemented for this pipeline")

// Finding is one issue surfaced by identify.
type Finding struct {
	IssueCode      string
	Summary        string
	Detail         string
	Pages          []int
	WCAGReferences []string
	Extra          map[string]interface{}
}

// IdentifyResult is the read-only diagnosis produced by a plugin.
type IdentifyResult struct {
	PipelineSlug string
	Findings     []Finding
	Summary      string
	GeneratedAt  time.Time
}

// HasFindings reports whether identify surfaced any issue.
func (r *IdentifyResult) HasFindings() bool {
	return r != nil && len(r.Findings) > 0
}

// Change describes one concrete modification made by resolve.
type Change struct {
	Description   string
	PagesImpacted []int
	Annotations   map[string]interface{}
}

// ResolveResult is the output of a successful resolve.
type ResolveResult struct {
	PipelineSlug    string
	ResolvedPDFPath string
	ChangeLog       []Change
	Notes           string
	GeneratedAt     time.Time
}

// ResolveStatus tags a ResolveOutcome.
type ResolveStatus int

const (
	ResolveNotSupported ResolveStatus = iota
	ResolveFailed
	ResolveSucceeded
)

func (s ResolveStatus) String() string {
	switch s {
	case ResolveNotSupported:
		return "not_supported"
	case ResolveFailed:
		return "failed"
	case ResolveSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("ResolveStatus(%d)", int(s))
	}
}

// ResolveOutcome is what a resolver returns instead of raising.
// Result is set only for ResolveSucceeded; Err is set otherwise.
type ResolveOutcome struct {
	Status ResolveStatus
	Result *ResolveResult
	Err    error
}

// NotSupported reports that the plugin cannot remediate in this situation.
func NotSupported(reason string) ResolveOutcome {
	if reason == "" {
		return ResolveOutcome{Status: ResolveNotSupported, Err: ErrResolveNotSupported}
	}
	return ResolveOutcome{Status: ResolveNotSupported, Err: fmt.Errorf("%s: %w", reason, ErrResolveNotSupported)}
}

// Failed reports a remediation attempt that went wrong.
func Failed(err error) ResolveOutcome {
	return ResolveOutcome{Status: ResolveFailed, Err: err}
}

// Succeeded wraps a successful remediation.
func Succeeded(result *ResolveResult) ResolveOutcome {
	return ResolveOutcome{Status: ResolveSucceeded, Result: result}
}

// Plugin is a diagnostic routine. Identify must not modify the document.
type Plugin interface {
	Slug() string
	Title() string
	Description() string
	Identify(ctx context.Context, pc *Context) (*IdentifyResult, error)
}

// Resolver is implemented by plugins that can attempt automated remediation.
type Resolver interface {
	Resolve(ctx context.Context, pc *Context, identify *IdentifyResult) ResolveOutcome
}

// Info describes a registered plugin.
type Info struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CanResolve  bool   `json:"can_resolve"`
}

// Describe returns the public description of p.
func Describe(p Plugin) Info {
	_, ok := p.(Resolver)
	return Info{Slug: p.Slug(), Title: p.Title(), Description: p.Description(), CanResolve: ok}
}
