package pipelines

import (
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// SerializeFindings converts findings to a JSON-friendly payload.
func SerializeFindings(findings []Finding) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(findings))
	for _, f := range findings {
		out = append(out, map[string]interface{}{
			"issue_code":      f.IssueCode,
			"summary":         f.Summary,
			"detail":          f.Detail,
			"pages":           nonNilInts(f.Pages),
			"wcag_references": nonNilStrings(f.WCAGReferences),
			"extra":           nonNilMap(f.Extra),
		})
	}
	return out
}

// IdentifyPayload is the stored form of an identify result.
func IdentifyPayload(r *IdentifyResult) map[string]interface{} {
	return map[string]interface{}{
		"summary":      r.Summary,
		"generated_at": r.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"findings":     SerializeFindings(r.Findings),
	}
}

// ResolvePayload is the stored form of a resolve result; nil when resolve is absent.
func ResolvePayload(r *ResolveResult) map[string]interface{} {
	if r == nil {
		return nil
	}
	changes := make([]map[string]interface{}, 0, len(r.ChangeLog))
	for _, c := range r.ChangeLog {
		changes = append(changes, map[string]interface{}{
			"description":    c.Description,
			"pages_impacted": nonNilInts(c.PagesImpacted),
			"annotations":    nonNilMap(c.Annotations),
		})
	}
	return map[string]interface{}{
		"resolved_pdf_path": r.ResolvedPDFPath,
		"notes":             r.Notes,
		"generated_at":      r.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"change_log":        changes,
	}
}

// ToPipelineRun builds the persistent record of res for docID, issues included.
func ToPipelineRun(docID string, res *RunResult) *models.PipelineRun {
	run := &models.PipelineRun{
		DocumentID:      docID,
		PipelineSlug:    res.Slug,
		AttemptResolve:  res.AttemptResolve,
		Status:          res.Status(),
		IdentifyPayload: IdentifyPayload(res.Identify),
		ResolvePayload:  ResolvePayload(res.Resolve),
		Errors:          nonNilStrings(res.Errors),
	}
	for _, f := range res.Identify.Findings {
		run.Issues = append(run.Issues, &models.PipelineIssue{
			IssueCode:      f.IssueCode,
			Summary:        f.Summary,
			Detail:         f.Detail,
			Pages:          nonNilInts(f.Pages),
			WCAGReferences: nonNilStrings(f.WCAGReferences),
			Extra:          f.Extra,
		})
	}
	return run
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}
