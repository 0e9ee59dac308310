package pipelines

import (
	"context"
	"errors"
	"fmt"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/pkg/utils"
)

// Scratch keys shared by the built-in plugins.
const (
	CacheHeadingKey    = "document_h1_heading"
	CacheValidationKey = "filename_validation"
)

// H1PresenceSlug identifies the heading presence plugin.
const H1PresenceSlug = "h1-heading-presence"

// H1Presence flags documents without a top-level heading. It has no resolve step:
// structural tags cannot be generated automatically.
type H1Presence struct {
	extract HeadingExtractor
}

// NewH1Presence creates the plugin. A nil extractor uses ExtractHeading.
func NewH1Presence(extract HeadingExtractor) *H1Presence {
	if extract == nil {
		extract = ExtractHeading
	}
	return &H1Presence{extract: extract}
}

func (p *H1Presence) Slug() string  { return H1PresenceSlug }
func (p *H1Presence) Title() string { return "H1 Heading Presence" }
func (p *H1Presence) Description() string {
	return "Detects whether the document structure yields a top-level heading for the document."
}

func (p *H1Presence) Identify(_ context.Context, pc *Context) (*IdentifyResult, error) {
	heading, err := headingOf(pc, p.extract)
	if err != nil {
		return nil, fmt.Errorf("failed to analyse document heading structure: %w", err)
	}
	if heading == "" {
		return &IdentifyResult{
			PipelineSlug: p.Slug(),
			Summary:      "No H1 heading detected in the document structure.",
			Findings: []Finding{{
				IssueCode: "document.missing_h1",
				Summary:   "Document lacks a top-level H1 heading",
				Detail: "Structural extraction could not locate an H1/Title element. " +
					"Manual remediation is required to add a logical document heading.",
				WCAGReferences: []string{"WCAG 2.4.6"},
				Extra:          map[string]interface{}{"pdf_path": pc.PDFPath},
			}},
		}, nil
	}
	return &IdentifyResult{
		PipelineSlug: p.Slug(),
		Summary:      "Found top-level heading: " + utils.Truncate(heading, 120),
	}, nil
}

// headingOf returns the cached heading or extracts and caches it.
// An empty string means the document has none.
func headingOf(pc *Context, extract HeadingExtractor) (string, error) {
	if v, ok := pc.Cached(CacheHeadingKey); ok {
		s, _ := v.(string)
		return s, nil
	}
	heading, err := extract(pc.PDFPath)
	if errors.Is(err, ErrNoHeading) {
		pc.Cache(CacheHeadingKey, "")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	pc.Cache(CacheHeadingKey, heading)
	return heading, nil
}
