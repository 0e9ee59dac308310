// Package checker produces accessibility reports for PDF documents.
package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// PageRange selects pages Start..End inclusive, 1-based.
type PageRange struct {
	Start int
	End   int
}

// Single returns the range covering only page.
func Single(page int) *PageRange {
	return &PageRange{Start: page, End: page}
}

func (p *PageRange) String() string {
	if p == nil {
		return "all"
	}
	if p.Start == p.End {
		return fmt.Sprintf("%d", p.Start)
	}
	return fmt.Sprintf("%d-%d", p.Start, p.End)
}

// Result is the outcome of one check. TaggedPDFPath is only set for whole-document checks.
type Result struct {
	Report        models.Report
	TaggedPDFPath string
}

// AccessibilityChecker checks a whole document (pages == nil) or a page range.
// Implementations must be safe to use from one goroutine at a time; the page
// fan-out builds one checker per worker.
type AccessibilityChecker interface {
	Check(ctx context.Context, documentPath string, pages *PageRange) (*Result, error)
}

// Factory builds a new checker.
type Factory func() (AccessibilityChecker, error)

// Rule statuses as they appear in reports.
const (
	StatusPassed      = "Passed"
	StatusFailed      = "Failed"
	StatusManualCheck = "Needs manual check"
	StatusSkipped     = "Skipped"
)

// Rule is one line of a detailed report.
type Rule struct {
	Rule        string `json:"Rule"`
	Status      string `json:"Status"`
	Description string `json:"Description"`
}

// Report sections.
const (
	SectionDocument    = "Document"
	SectionPageContent = "Page Content"
	SectionDetailed    = "Detailed Report"
)

// BuildReport assembles a report with a summary derived from the rules of every section.
func BuildReport(description string, sections map[string][]Rule) models.Report {
	counts := map[string]int{StatusPassed: 0, StatusFailed: 0, StatusManualCheck: 0, StatusSkipped: 0}
	detailed := make(map[string]interface{}, len(sections))
	for name, rules := range sections {
		items := make([]interface{}, 0, len(rules))
		for _, r := range rules {
			counts[r.Status]++
			items = append(items, map[string]interface{}{
				"Rule":        r.Rule,
				"Status":      r.Status,
				"Description": r.Description,
			})
		}
		detailed[name] = items
	}
	summary := map[string]interface{}{
		"Description":     description,
		"Passed manually": 0,
		"Failed manually": 0,
	}
	for status, n := range counts {
		summary[status] = n
	}
	return models.Report{
		models.SummaryKey: summary,
		SectionDetailed:   detailed,
	}
}

// TaggedName is the output file name for the tagged copy of source.
func TaggedName(source string, at time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return fmt.Sprintf("%s_tagged_%s.pdf", stem, at.Format("2006-01-02T15-04-05"))
}

func ensureFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("PDF file not found: %s", path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
