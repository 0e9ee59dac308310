package pipelines

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// fakePlugin is a configurable plugin for runner and manager tests.
type fakePlugin struct {
	slug        string
	identify    func(pc *Context) (*IdentifyResult, error)
	resolve     func(pc *Context) ResolveOutcome
	identifyN   int
	resolveN    int
	withResolve bool
}

func (p *fakePlugin) Slug() string        { return p.slug }
func (p *fakePlugin) Title() string       { return "Fake " + p.slug }
func (p *fakePlugin) Description() string { return "" }

func (p *fakePlugin) Identify(_ context.Context, pc *Context) (*IdentifyResult, error) {
	p.identifyN++
	if p.identify == nil {
		return &IdentifyResult{Summary: "ok"}, nil
	}
	return p.identify(pc)
}

// resolvingPlugin adds a Resolve method to fakePlugin.
type resolvingPlugin struct {
	*fakePlugin
}

func (p resolvingPlugin) Resolve(_ context.Context, pc *Context, _ *IdentifyResult) ResolveOutcome {
	p.resolveN++
	return p.resolve(pc)
}

func withFinding(*Context) (*IdentifyResult, error) {
	return &IdentifyResult{Findings: []Finding{{IssueCode: "x.y", Summary: "s"}}}, nil
}

func TestDeriveStatus_TruthTable(t *testing.T) {
	for _, errs := range [][]string{nil, {"resolve_failed: boom"}} {
		for _, attempt := range []bool{false, true} {
			for _, resolved := range []bool{false, true} {
				for _, findings := range []bool{false, true} {
					want := models.RunFailed
					switch {
					case len(errs) == 0:
						want = models.RunSucceeded
					case attempt && resolved && findings:
						want = models.RunPartial
					}
					if got := DeriveStatus(errs, attempt, resolved, findings); got != want {
						t.Errorf("errs=%v attempt=%v resolved=%v findings=%v: got %s, want %s",
							errs, attempt, resolved, findings, got, want)
					}
				}
			}
		}
	}
}

func TestRun_IdentifyOnly(t *testing.T) {
	p := &fakePlugin{slug: "a", identify: withFinding}
	res := Run(context.Background(), p, &Context{}, false)

	if len(res.Errors) != 0 {
		t.Errorf("errors: %v", res.Errors)
	}
	if res.Resolve != nil {
		t.Error("resolve must not run without attemptResolve")
	}
	if res.Identify.PipelineSlug != "a" || res.Identify.GeneratedAt.IsZero() {
		t.Errorf("identify defaults not filled: %+v", res.Identify)
	}
	if res.Status() != models.RunSucceeded {
		t.Errorf("findings alone are not errors, got %s", res.Status())
	}
}

func TestRun_IdentifyFailureIsContained(t *testing.T) {
	p := &fakePlugin{slug: "a", identify: func(*Context) (*IdentifyResult, error) {
		return nil, errors.New("boom")
	}}
	res := Run(context.Background(), resolvingPlugin{p}, &Context{}, true)

	if len(res.Errors) != 1 || res.Errors[0] != "identify_failed: boom" {
		t.Errorf("errors: %v", res.Errors)
	}
	if res.Identify == nil || len(res.Identify.Findings) != 0 {
		t.Errorf("expected empty identify result, got %+v", res.Identify)
	}
	if p.resolveN != 0 {
		t.Error("resolve must not run after identify failed")
	}
	if res.Status() != models.RunFailed {
		t.Errorf("status: %s", res.Status())
	}
}

func TestRun_PanicsAreContained(t *testing.T) {
	p := &fakePlugin{slug: "a", identify: func(*Context) (*IdentifyResult, error) {
		panic("nil map")
	}}
	res := Run(context.Background(), p, &Context{}, false)
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "identify_failed: panic: nil map") {
		t.Errorf("errors: %v", res.Errors)
	}

	r := resolvingPlugin{&fakePlugin{slug: "b", identify: withFinding, resolve: func(*Context) ResolveOutcome { panic("oops") }}}
	res = Run(context.Background(), r, &Context{}, true)
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "resolve_failed: panic: oops") {
		t.Errorf("errors: %v", res.Errors)
	}
}

func TestRun_ResolveOutcomes(t *testing.T) {
	t.Run("plugin without resolver", func(t *testing.T) {
		res := Run(context.Background(), &fakePlugin{slug: "a", identify: withFinding}, &Context{}, true)
		if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "resolve_not_supported: ") {
			t.Errorf("errors: %v", res.Errors)
		}
		if res.Status() != models.RunFailed {
			t.Errorf("status: %s", res.Status())
		}
	})

	t.Run("not supported", func(t *testing.T) {
		p := resolvingPlugin{&fakePlugin{slug: "a", identify: withFinding, resolve: func(*Context) ResolveOutcome {
			return NotSupported("already valid")
		}}}
		res := Run(context.Background(), p, &Context{}, true)
		want := "resolve_not_supported: already valid: " + ErrResolveNotSupported.Error()
		if len(res.Errors) != 1 || res.Errors[0] != want {
			t.Errorf("errors: %v", res.Errors)
		}
	})

	t.Run("failed", func(t *testing.T) {
		p := resolvingPlugin{&fakePlugin{slug: "a", identify: withFinding, resolve: func(*Context) ResolveOutcome {
			return Failed(errors.New("disk full"))
		}}}
		res := Run(context.Background(), p, &Context{}, true)
		if len(res.Errors) != 1 || res.Errors[0] != "resolve_failed: disk full" {
			t.Errorf("errors: %v", res.Errors)
		}
		if res.Resolve != nil {
			t.Error("failed resolve must be absent")
		}
		if res.Status() != models.RunFailed {
			t.Errorf("status: %s", res.Status())
		}
	})

	t.Run("succeeded", func(t *testing.T) {
		p := resolvingPlugin{&fakePlugin{slug: "a", identify: withFinding, resolve: func(*Context) ResolveOutcome {
			return Succeeded(&ResolveResult{ResolvedPDFPath: "/out/a.pdf"})
		}}}
		res := Run(context.Background(), p, &Context{}, true)
		if len(res.Errors) != 0 || res.Resolve == nil {
			t.Fatalf("result: %+v", res)
		}
		if res.Resolve.PipelineSlug != "a" || res.Resolve.GeneratedAt.IsZero() {
			t.Errorf("resolve defaults not filled: %+v", res.Resolve)
		}
		if res.Status() != models.RunSucceeded {
			t.Errorf("status: %s", res.Status())
		}
	})

	t.Run("succeeded without result", func(t *testing.T) {
		p := resolvingPlugin{&fakePlugin{slug: "a", identify: withFinding, resolve: func(*Context) ResolveOutcome {
			return Succeeded(nil)
		}}}
		res := Run(context.Background(), p, &Context{}, true)
		if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "resolve_failed: ") {
			t.Errorf("errors: %v", res.Errors)
		}
	})
}

func TestRun_NoFindingsSkipsResolve(t *testing.T) {
	p := &fakePlugin{slug: "a", resolve: func(*Context) ResolveOutcome {
		return Failed(errors.New("should not run"))
	}}
	res := Run(context.Background(), resolvingPlugin{p}, &Context{}, true)
	if p.resolveN != 0 {
		t.Error("resolve must not run when identify found nothing")
	}
	if len(res.Errors) != 0 || res.Status() != models.RunSucceeded {
		t.Errorf("result: %+v", res)
	}
}

func TestResolveStatusString(t *testing.T) {
	if ResolveSucceeded.String() != "succeeded" || ResolveNotSupported.String() != "not_supported" {
		t.Error("unexpected names")
	}
	if ResolveStatus(9).String() != "ResolveStatus(9)" {
		t.Error("unknown status name")
	}
}
