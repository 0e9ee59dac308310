package models

import "time"

// PipelineRunStatus is the derived outcome of one plugin invocation.
type PipelineRunStatus string

const (
	RunSucceeded PipelineRunStatus = "succeeded"
	RunPartial   PipelineRunStatus = "partial"
	RunFailed    PipelineRunStatus = "failed"
)

// PipelineRun records one plugin invocation against a document.
type PipelineRun struct {
	ID              string                 `json:"id" db:"id"`
	DocumentID      string                 `json:"document_id" db:"document_id"`
	PipelineSlug    string                 `json:"pipeline_slug" db:"pipeline_slug"`
	AttemptResolve  bool                   `json:"attempt_resolve" db:"attempt_resolve"`
	Status          PipelineRunStatus      `json:"status" db:"status"`
	IdentifyPayload map[string]interface{} `json:"identify_payload,omitempty" db:"identify_payload"`
	ResolvePayload  map[string]interface{} `json:"resolve_payload,omitempty" db:"resolve_payload"`
	Errors          []string               `json:"errors" db:"errors"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	Issues          []*PipelineIssue       `json:"issues" db:"-"`
}

// PipelineIssue is a single finding owned by a PipelineRun.
type PipelineIssue struct {
	ID             string                 `json:"id" db:"id"`
	PipelineRunID  string                 `json:"pipeline_run_id" db:"pipeline_run_id"`
	IssueCode      string                 `json:"issue_code" db:"issue_code"`
	Summary        string                 `json:"summary" db:"summary"`
	Detail         string                 `json:"detail" db:"detail"`
	Pages          []int                  `json:"pages" db:"pages"`
	WCAGReferences []string               `json:"wcag_references" db:"wcag_references"`
	Extra          map[string]interface{} `json:"extra,omitempty" db:"extra"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}
