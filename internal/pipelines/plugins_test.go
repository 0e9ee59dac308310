package pipelines

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/naming"
)

type countingExtractor struct {
	heading string
	err     error
	calls   int
}

func (e *countingExtractor) extract(string) (string, error) {
	e.calls++
	return e.heading, e.err
}

func newPluginContext(t *testing.T, displayName string) *Context {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "3f2a_upload.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4 source"), 0644); err != nil {
		t.Fatal(err)
	}
	return &Context{
		DocumentID:   "doc1",
		PDFPath:      src,
		DocumentName: displayName,
		OutputDir:    filepath.Join(dir, "pipelines", "doc1"),
	}
}

func TestH1Presence(t *testing.T) {
	t.Run("missing heading", func(t *testing.T) {
		ex := &countingExtractor{err: ErrNoHeading}
		pc := newPluginContext(t, "x.pdf")
		res, err := NewH1Presence(ex.extract).Identify(context.Background(), pc)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Findings) != 1 {
			t.Fatalf("findings: %+v", res.Findings)
		}
		f := res.Findings[0]
		if f.IssueCode != "document.missing_h1" || f.WCAGReferences[0] != "WCAG 2.4.6" || f.Extra["pdf_path"] != pc.PDFPath {
			t.Errorf("finding: %+v", f)
		}
		if res.Summary != "No H1 heading detected in the document structure." {
			t.Errorf("summary: %s", res.Summary)
		}
		if v, ok := pc.Cached(CacheHeadingKey); !ok || v != "" {
			t.Errorf("absence must be cached, got %v %v", v, ok)
		}
	})

	t.Run("heading found and truncated", func(t *testing.T) {
		long := strings.Repeat("Heading ", 30)
		ex := &countingExtractor{heading: long}
		pc := newPluginContext(t, "x.pdf")
		res, err := NewH1Presence(ex.extract).Identify(context.Background(), pc)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Findings) != 0 {
			t.Errorf("unexpected findings: %+v", res.Findings)
		}
		prefix := "Found top-level heading: "
		if !strings.HasPrefix(res.Summary, prefix) || len(res.Summary) != len(prefix)+120 || !strings.HasSuffix(res.Summary, "...") {
			t.Errorf("summary: %q", res.Summary)
		}
	})

	t.Run("extraction error", func(t *testing.T) {
		ex := &countingExtractor{err: errors.New("corrupt xref")}
		_, err := NewH1Presence(ex.extract).Identify(context.Background(), newPluginContext(t, "x.pdf"))
		if err == nil || !strings.Contains(err.Error(), "corrupt xref") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("uses cached heading", func(t *testing.T) {
		ex := &countingExtractor{heading: "unused"}
		pc := newPluginContext(t, "x.pdf")
		pc.Cache(CacheHeadingKey, "Cached Heading")
		res, err := NewH1Presence(ex.extract).Identify(context.Background(), pc)
		if err != nil {
			t.Fatal(err)
		}
		if ex.calls != 0 || res.Summary != "Found top-level heading: Cached Heading" {
			t.Errorf("calls=%d summary=%q", ex.calls, res.Summary)
		}
	})
}

func fixedNamer(name string, err error) naming.Suggester {
	return naming.SuggesterFunc(func(context.Context, string, string) (string, error) {
		return name, err
	})
}

func TestFilenameFromHeading_MismatchAndResolve(t *testing.T) {
	ex := &countingExtractor{heading: "Annual Report 2023"}
	p := NewFilenameFromHeading(fixedNamer("annual-report-2023", nil), WithHeadingExtractor(ex.extract))
	pc := newPluginContext(t, "scan0001.pdf")

	res := Run(context.Background(), p, pc, true)
	if len(res.Errors) != 0 {
		t.Fatalf("errors: %v", res.Errors)
	}
	if len(res.Identify.Findings) != 1 {
		t.Fatalf("findings: %+v", res.Identify.Findings)
	}
	f := res.Identify.Findings[0]
	if f.IssueCode != "document.filename_mismatch" || f.Extra["current_filename"] != "scan0001" || f.Extra["h1_heading"] != "Annual Report 2023" {
		t.Errorf("finding: %+v", f)
	}
	if !strings.HasSuffix(f.Detail, "Reason: "+ReasonNoHyphen+".") {
		t.Errorf("detail: %s", f.Detail)
	}

	want := filepath.Join(pc.OutputDir, FilenameSlug, "annual-report-2023.pdf")
	if res.Resolve == nil || res.Resolve.ResolvedPDFPath != want {
		t.Fatalf("resolve: %+v", res.Resolve)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "%PDF-1.4 source" {
		t.Errorf("staged copy: %q %v", data, err)
	}
	change := res.Resolve.ChangeLog[0]
	if change.Annotations[AnnotationSuggestedFilename] != "annual-report-2023.pdf" ||
		change.Annotations[AnnotationSourceFilename] != "3f2a_upload.pdf" ||
		change.Description != "Suggested renaming file to annual-report-2023.pdf" {
		t.Errorf("change: %+v", change)
	}
	if SuggestedName(res.Resolve) != "annual-report-2023.pdf" {
		t.Errorf("suggested name: %s", SuggestedName(res.Resolve))
	}
	if res.Status() != models.RunSucceeded {
		t.Errorf("status: %s", res.Status())
	}
	cached, _ := pc.Cached(CacheValidationKey)
	if v := cached.(*FilenameValidation); v.Suggested != "annual-report-2023.pdf" || v.IsValid {
		t.Errorf("validation cache: %+v", v)
	}

	// A second resolve does not overwrite the staged copy.
	outcome := p.Resolve(context.Background(), pc, res.Identify)
	if outcome.Status != ResolveSucceeded || filepath.Base(outcome.Result.ResolvedPDFPath) != "annual-report-2023-1.pdf" {
		t.Errorf("collision: %+v", outcome)
	}
	if ex.calls != 1 {
		t.Errorf("heading extracted %d times, want 1", ex.calls)
	}
}

func TestFilenameFromHeading_NamerFailureUsesHeuristic(t *testing.T) {
	ex := &countingExtractor{heading: "The Annual Report for 2023"}
	p := NewFilenameFromHeading(fixedNamer("", errors.New("quota")), WithHeadingExtractor(ex.extract))
	pc := newPluginContext(t, "scan0001.pdf")

	res := Run(context.Background(), p, pc, true)
	if res.Resolve == nil {
		t.Fatalf("errors: %v", res.Errors)
	}
	if got := SuggestedName(res.Resolve); got != "annual-report-2023.pdf" {
		t.Errorf("got %s", got)
	}
}

func TestFilenameFromHeading_ValidName(t *testing.T) {
	ex := &countingExtractor{heading: "Annual Report 2023"}
	p := NewFilenameFromHeading(nil, WithHeadingExtractor(ex.extract))
	pc := newPluginContext(t, "annual-report-2023.pdf")

	res, err := p.Identify(context.Background(), pc)
	if err != nil {
		t.Fatal(err)
	}
	if res.HasFindings() || res.Summary != "Filename already reflects the detected H1 heading." {
		t.Errorf("identify: %+v", res)
	}
	if outcome := p.Resolve(context.Background(), pc, res); outcome.Status != ResolveNotSupported {
		t.Errorf("resolve on a valid name: %+v", outcome)
	}
}

func TestFilenameFromHeading_NoHeading(t *testing.T) {
	ex := &countingExtractor{err: ErrNoHeading}
	p := NewFilenameFromHeading(nil, WithHeadingExtractor(ex.extract))
	pc := newPluginContext(t, "")

	res := Run(context.Background(), p, pc, true)
	if res.Identify.HasFindings() {
		t.Errorf("findings: %+v", res.Identify.Findings)
	}
	if !strings.HasPrefix(res.Identify.Summary, "Skipped filename validation") {
		t.Errorf("summary: %s", res.Identify.Summary)
	}
	if len(res.Errors) != 0 || res.Resolve != nil {
		t.Errorf("resolve must be skipped without findings: %+v", res)
	}
	if res.Status() != models.RunSucceeded {
		t.Errorf("status: %s", res.Status())
	}
	if outcome := p.Resolve(context.Background(), pc, res.Identify); outcome.Status != ResolveNotSupported {
		t.Errorf("direct resolve without validation: %+v", outcome)
	}
}

func TestFilenameFromHeading_FallsBackToStoredStem(t *testing.T) {
	ex := &countingExtractor{heading: "Upload Guide"}
	p := NewFilenameFromHeading(nil, WithHeadingExtractor(ex.extract))
	pc := newPluginContext(t, "")

	res, err := p.Identify(context.Background(), pc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Findings[0].Extra["current_filename"] != "3f2a_upload" {
		t.Errorf("current: %v", res.Findings[0].Extra["current_filename"])
	}
}

func TestSuggestedName(t *testing.T) {
	if SuggestedName(nil) != "" {
		t.Error("nil resolve")
	}
	r := &ResolveResult{ResolvedPDFPath: "/out/filename-from-h1/fallback.pdf"}
	if SuggestedName(r) != "fallback.pdf" {
		t.Errorf("fallback: %s", SuggestedName(r))
	}
	r.ChangeLog = []Change{{Annotations: map[string]interface{}{AnnotationSuggestedFilename: "dir/annual-report-2023"}}}
	if SuggestedName(r) != "annual-report-2023" {
		t.Errorf("annotation: %s", SuggestedName(r))
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil, nil)
	infos := r.Describe()
	if len(infos) != 2 || infos[0].Slug != H1PresenceSlug || infos[1].Slug != FilenameSlug {
		t.Fatalf("registry: %+v", infos)
	}
	if infos[0].CanResolve || !infos[1].CanResolve {
		t.Errorf("resolve capability: %+v", infos)
	}
}

func TestToPipelineRun(t *testing.T) {
	res := &RunResult{
		Slug:           "a",
		AttemptResolve: true,
		Identify: &IdentifyResult{
			PipelineSlug: "a",
			Summary:      "one issue",
			Findings:     []Finding{{IssueCode: "x", Summary: "s", Detail: "d", Pages: []int{2}}},
		},
		Errors: []string{"resolve_failed: boom"},
	}
	run := ToPipelineRun("doc1", res)
	if run.DocumentID != "doc1" || run.PipelineSlug != "a" || run.Status != models.RunFailed || !run.AttemptResolve {
		t.Errorf("run: %+v", run)
	}
	if run.ResolvePayload != nil {
		t.Error("absent resolve must have nil payload")
	}
	if len(run.Issues) != 1 || run.Issues[0].Pages[0] != 2 || run.Issues[0].WCAGReferences == nil {
		t.Errorf("issues: %+v", run.Issues)
	}
	findings := run.IdentifyPayload["findings"].([]map[string]interface{})
	if len(findings) != 1 || findings[0]["issue_code"] != "x" {
		t.Errorf("payload findings: %v", findings)
	}
	if run.IdentifyPayload["summary"] != "one issue" {
		t.Errorf("payload: %v", run.IdentifyPayload)
	}
}
