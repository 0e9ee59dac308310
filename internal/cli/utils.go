// Package cli provides output formatting for the pdfaccess CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/checker"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/pipelines"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --format value to an OutputFormat. Unknown values are text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDocuments writes a document listing.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return WriteJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPASSED\tFAILED\tMANUAL\tUPLOADED\tFILENAME")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			d.ID, d.Status, d.TotalPassed, d.TotalFailed, d.NeedsManualCheck,
			formatTime(&d.UploadedAt), utils.Truncate(d.Filename, 60))
	}
	return tw.Flush()
}

// WriteDocumentDetail writes one document with its page results and pipeline runs.
func WriteDocumentDetail(w io.Writer, detail *models.DocumentDetail, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, detail)
	}
	d := detail.Document
	fmt.Fprintf(w, "ID:        %s\n", d.ID)
	fmt.Fprintf(w, "Filename:  %s\n", d.Filename)
	if d.OriginalFilename != d.Filename {
		fmt.Fprintf(w, "Original:  %s\n", d.OriginalFilename)
	}
	fmt.Fprintf(w, "Status:    %s\n", d.Status)
	fmt.Fprintf(w, "Uploaded:  %s\n", formatTime(&d.UploadedAt))
	if d.ProcessingStarted != nil {
		fmt.Fprintf(w, "Started:   %s\n", formatTime(d.ProcessingStarted))
	}
	if d.ProcessingCompleted != nil {
		fmt.Fprintf(w, "Finished:  %s\n", formatTime(d.ProcessingCompleted))
	}
	if d.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:     %s\n", d.ErrorMessage)
	}
	if d.Status == models.StatusCompleted {
		fmt.Fprintf(w, "Summary:   %d passed, %d failed, %d need manual check\n",
			d.TotalPassed, d.TotalFailed, d.NeedsManualCheck)
	}
	if d.TaggedPDFPath != "" {
		fmt.Fprintf(w, "Tagged:    %s\n", d.TaggedPDFPath)
	}

	if len(detail.Pages) > 0 {
		fmt.Fprintf(w, "\nPages (%d):\n", len(detail.Pages))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  PAGE\tPASSED\tFAILED\tMANUAL")
		for _, p := range detail.Pages {
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%d\n", p.PageNumber, p.TotalPassed, p.TotalFailed, p.NeedsManualCheck)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(detail.PipelineRuns) > 0 {
		fmt.Fprintln(w, "\nPipelines:")
		for _, run := range detail.PipelineRuns {
			writeRun(w, run)
		}
	}
	return nil
}

func writeRun(w io.Writer, run *models.PipelineRun) {
	fmt.Fprintf(w, "  [%s] %s", run.Status, run.PipelineSlug)
	if run.AttemptResolve {
		fmt.Fprint(w, " (resolve)")
	}
	fmt.Fprintln(w)
	if summary, ok := run.IdentifyPayload["summary"].(string); ok && summary != "" {
		fmt.Fprintf(w, "      %s\n", summary)
	}
	for _, issue := range run.Issues {
		fmt.Fprintf(w, "      - %s: %s\n", issue.IssueCode, issue.Summary)
	}
	for _, e := range run.Errors {
		fmt.Fprintf(w, "      ! %s\n", e)
	}
}

// WritePipelines writes the registered plugin descriptions.
func WritePipelines(w io.Writer, infos []pipelines.Info, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, infos)
	}
	for _, info := range infos {
		resolve := ""
		if info.CanResolve {
			resolve = " [can resolve]"
		}
		fmt.Fprintf(w, "%s%s\n  %s\n  %s\n", info.Slug, resolve, info.Title, info.Description)
	}
	return nil
}

// WriteReport writes an accessibility report: the summary counts, then each rule with a non-passing status.
func WriteReport(w io.Writer, report models.Report, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	c := report.Counts()
	fmt.Fprintf(w, "Passed: %d  Failed: %d  Needs manual check: %d\n", c.TotalPassed, c.TotalFailed, c.NeedsManualCheck)

	detailed, _ := report[checker.SectionDetailed].(map[string]interface{})
	sections := make([]string, 0, len(detailed))
	for name := range detailed {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		rules, _ := detailed[name].([]interface{})
		var lines []string
		for _, raw := range rules {
			rule, _ := raw.(map[string]interface{})
			status, _ := rule["Status"].(string)
			if status == "" || status == checker.StatusPassed {
				continue
			}
			title, _ := rule["Rule"].(string)
			desc, _ := rule["Description"].(string)
			lines = append(lines, fmt.Sprintf("  %-20s %s: %s", status, title, desc))
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n%s\n", name, strings.Join(lines, "\n"))
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
