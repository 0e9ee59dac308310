package pipelines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/naming"
)

// FilenameSlug identifies the filename plugin. The orchestrator adopts its suggestion as the display name.
const FilenameSlug = "filename-from-h1"

// Annotation keys of a filename change.
const (
	AnnotationSuggestedFilename = "suggested_filename"
	AnnotationSourceFilename    = "source_filename"
)

// FilenameValidation is cached in the scratch bucket between identify and resolve.
type FilenameValidation struct {
	Current   string `json:"current"`
	Heading   string `json:"heading"`
	IsValid   bool   `json:"is_valid"`
	Reason    string `json:"reason"`
	Suggested string `json:"suggested,omitempty"`
}

// FilenameFromHeading compares the file name with the detected heading and, on resolve,
// stages a renamed copy under the plugin output directory.
type FilenameFromHeading struct {
	extract HeadingExtractor
	namer   naming.Suggester
	logger  *zap.Logger
	now     func() time.Time
}

// FilenameOption configures FilenameFromHeading.
type FilenameOption func(*FilenameFromHeading)

// WithHeadingExtractor replaces ExtractHeading.
func WithHeadingExtractor(extract HeadingExtractor) FilenameOption {
	return func(p *FilenameFromHeading) {
		p.extract = extract
	}
}

// WithFilenameLogger sets the logger.
func WithFilenameLogger(logger *zap.Logger) FilenameOption {
	return func(p *FilenameFromHeading) {
		p.logger = logger
	}
}

// NewFilenameFromHeading creates the plugin. A nil namer uses the heuristic only.
func NewFilenameFromHeading(namer naming.Suggester, opts ...FilenameOption) *FilenameFromHeading {
	p := &FilenameFromHeading{namer: namer, extract: ExtractHeading, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.namer == nil {
		p.namer = naming.Heuristic{}
	}
	return p
}

func (p *FilenameFromHeading) Slug() string  { return FilenameSlug }
func (p *FilenameFromHeading) Title() string { return "Filename Mirrors H1" }
func (p *FilenameFromHeading) Description() string {
	return "Flags PDFs whose filenames do not align with the detected H1 heading and proposes fixes."
}

// currentName is the display name stem, or the stored file stem when no display name is known.
func currentName(pc *Context) string {
	if pc.DocumentName != "" {
		return stem(pc.DocumentName)
	}
	return stem(pc.PDFPath)
}

func (p *FilenameFromHeading) Identify(_ context.Context, pc *Context) (*IdentifyResult, error) {
	heading, err := headingOf(pc, p.extract)
	if err != nil {
		return nil, fmt.Errorf("failed to extract H1 heading for filename validation: %w", err)
	}
	if heading == "" {
		return &IdentifyResult{
			PipelineSlug: p.Slug(),
			Summary:      "Skipped filename validation because the document has no detectable H1 heading.",
		}, nil
	}

	current := currentName(pc)
	valid, reason := ValidateFilename(current, heading)
	pc.Cache(CacheValidationKey, &FilenameValidation{
		Current: current,
		Heading: heading,
		IsValid: valid,
		Reason:  reason,
	})
	if valid {
		return &IdentifyResult{
			PipelineSlug: p.Slug(),
			Summary:      "Filename already reflects the detected H1 heading.",
		}, nil
	}

	return &IdentifyResult{
		PipelineSlug: p.Slug(),
		Summary:      "Filename is missing H1-derived keywords and hyphenation.",
		Findings: []Finding{{
			IssueCode: "document.filename_mismatch",
			Summary:   "Filename does not incorporate terms from the H1 heading",
			Detail: "The current filename should use hyphen-separated keywords taken from the H1 heading. " +
				"Reason: " + reason + ".",
			Extra: map[string]interface{}{
				"current_filename": current,
				"h1_heading":       heading,
			},
		}},
	}, nil
}

func (p *FilenameFromHeading) Resolve(ctx context.Context, pc *Context, _ *IdentifyResult) ResolveOutcome {
	cached, _ := pc.Cached(CacheValidationKey)
	validation, ok := cached.(*FilenameValidation)
	if !ok || validation.IsValid {
		return NotSupported("filename is already considered valid")
	}

	heading := validation.Heading
	if heading == "" {
		h, err := headingOf(pc, p.extract)
		if err != nil {
			return Failed(err)
		}
		heading = h
	}
	if heading == "" {
		return NotSupported("cannot resolve filename without an H1 heading")
	}

	current := validation.Current
	if current == "" {
		current = currentName(pc)
	}
	suggested, err := p.namer.Suggest(ctx, heading, current)
	if err != nil {
		p.logger.Warn("filename suggestion failed, using heuristic",
			zap.String("document_id", pc.DocumentID), zap.Error(err))
		suggested = naming.HeuristicName(heading)
	}
	suggested = naming.Sanitize(suggested)
	if suggested == "" {
		return Failed(errors.New("no filename suggestion was produced"))
	}

	dir, err := EnsureOutputDir(pc.OutputDir, p.Slug())
	if err != nil {
		return Failed(err)
	}
	target := uniquePath(dir, suggested, ".pdf")
	if err := copyFile(pc.PDFPath, target); err != nil {
		return Failed(fmt.Errorf("failed to stage renamed copy: %w", err))
	}
	name := filepath.Base(target)
	validation.Suggested = name

	return Succeeded(&ResolveResult{
		PipelineSlug:    p.Slug(),
		ResolvedPDFPath: target,
		GeneratedAt:     p.now().UTC(),
		Notes:           "Generated filename from the H1 heading; output is staged as a copy for review.",
		ChangeLog: []Change{{
			Description: "Suggested renaming file to " + name,
			Annotations: map[string]interface{}{
				AnnotationSuggestedFilename: name,
				AnnotationSourceFilename:    filepath.Base(pc.PDFPath),
			},
		}},
	})
}

// SuggestedName returns the display name proposed by a resolve result: the base name
// of the suggested_filename annotation, else the base name of the resolved artifact.
func SuggestedName(r *ResolveResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.ChangeLog {
		if s, ok := c.Annotations[AnnotationSuggestedFilename].(string); ok && s != "" {
			return filepath.Base(s)
		}
	}
	if r.ResolvedPDFPath != "" {
		return filepath.Base(r.ResolvedPDFPath)
	}
	return ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
