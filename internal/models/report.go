package models

import (
	"encoding/json"
	"math"
)

// Report is a raw accessibility report as returned by a checker.
type Report map[string]interface{}

// Keys of the "Summary" section of a report.
const (
	SummaryKey            = "Summary"
	SummaryPassedKey      = "Passed"
	SummaryFailedKey      = "Failed"
	SummaryManualCheckKey = "Needs manual check"
)

// SummaryCounts are the pass/fail/manual-check totals taken from a report summary.
type SummaryCounts struct {
	TotalPassed      int `json:"total_passed" db:"total_passed"`
	TotalFailed      int `json:"total_failed" db:"total_failed"`
	NeedsManualCheck int `json:"needs_manual_check" db:"needs_manual_check"`
}

// Counts reads the summary totals. Missing or non-numeric values count as zero.
func (r Report) Counts() SummaryCounts {
	summary, ok := r[SummaryKey].(map[string]interface{})
	if !ok {
		return SummaryCounts{}
	}
	return SummaryCounts{
		TotalPassed:      toInt(summary[SummaryPassedKey]),
		TotalFailed:      toInt(summary[SummaryFailedKey]),
		NeedsManualCheck: toInt(summary[SummaryManualCheckKey]),
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	default:
		return 0
	}
}
