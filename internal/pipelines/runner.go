package pipelines

import (
	"context"
	"fmt"
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// Error prefixes recorded in RunResult.Errors.
const (
	prefixIdentifyFailed      = "identify_failed: "
	prefixResolveNotSupported = "resolve_not_supported: "
	prefixResolveFailed       = "resolve_failed: "
)

// RunResult is the outcome of one plugin invocation. Identify is never nil.
type RunResult struct {
	Slug           string
	AttemptResolve bool
	Identify       *IdentifyResult
	Resolve        *ResolveResult
	Errors         []string
}

// Status derives the run status from the result.
func (r *RunResult) Status() models.PipelineRunStatus {
	return DeriveStatus(r.Errors, r.AttemptResolve, r.Resolve != nil, r.Identify.HasFindings())
}

// DeriveStatus maps a completed run onto succeeded, partial or failed.
// Findings alone are not errors.
func DeriveStatus(errs []string, attemptResolve, resolved, hasFindings bool) models.PipelineRunStatus {
	if len(errs) == 0 {
		return models.RunSucceeded
	}
	if attemptResolve && resolved && hasFindings {
		return models.RunPartial
	}
	return models.RunFailed
}

// Run executes identify and, when attemptResolve is set and identify found something
// to remediate, resolve. It never fails: every error and panic is recorded in the result.
// A successful identify with no findings skips resolve, so a clean document is never rewritten.
func Run(ctx context.Context, p Plugin, pc *Context, attemptResolve bool) *RunResult {
	res := &RunResult{Slug: p.Slug(), AttemptResolve: attemptResolve}

	identify, err := safeIdentify(ctx, p, pc)
	if err != nil {
		res.Errors = append(res.Errors, prefixIdentifyFailed+err.Error())
	}

	if identify.HasFindings() && attemptResolve {
		outcome := safeResolve(ctx, p, pc, identify)
		switch outcome.Status {
		case ResolveSucceeded:
			if outcome.Result != nil {
				if outcome.Result.PipelineSlug == "" {
					outcome.Result.PipelineSlug = p.Slug()
				}
				if outcome.Result.GeneratedAt.IsZero() {
					outcome.Result.GeneratedAt = time.Now().UTC()
				}
				res.Resolve = outcome.Result
			} else {
				res.Errors = append(res.Errors, prefixResolveFailed+"resolver returned no result")
			}
		case ResolveNotSupported:
			res.Errors = append(res.Errors, prefixResolveNotSupported+causeOf(outcome.Err, ErrResolveNotSupported))
		default:
			res.Errors = append(res.Errors, prefixResolveFailed+causeOf(outcome.Err, fmt.Errorf("unknown error")))
		}
	}

	if identify == nil {
		identify = &IdentifyResult{}
	}
	if identify.PipelineSlug == "" {
		identify.PipelineSlug = p.Slug()
	}
	if identify.GeneratedAt.IsZero() {
		identify.GeneratedAt = time.Now().UTC()
	}
	res.Identify = identify
	return res
}

func safeIdentify(ctx context.Context, p Plugin, pc *Context) (result *IdentifyResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	result, err = p.Identify(ctx, pc)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &IdentifyResult{}
	}
	return result, nil
}

func safeResolve(ctx context.Context, p Plugin, pc *Context, identify *IdentifyResult) (outcome ResolveOutcome) {
	r, ok := p.(Resolver)
	if !ok {
		return NotSupported("")
	}
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Failed(fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.Resolve(ctx, pc, identify)
}

func causeOf(err, fallback error) string {
	if err == nil {
		err = fallback
	}
	return err.Error()
}
