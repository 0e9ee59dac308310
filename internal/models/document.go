// Package models defines core data structures for documents, page results and pipeline runs.
package models

import "time"

// ProcessingStatus is the lifecycle state of a document.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document represents an uploaded PDF and its aggregate accessibility results.
type Document struct {
	ID                  string           `json:"id" db:"id"`
	Filename            string           `json:"filename" db:"filename"`
	OriginalFilename    string           `json:"original_filename" db:"original_filename"`
	FilePath            string           `json:"file_path" db:"file_path"`
	FileSize            int64            `json:"file_size" db:"file_size"`
	Status              ProcessingStatus `json:"status" db:"status"`
	UploadedAt          time.Time        `json:"upload_timestamp" db:"upload_timestamp"`
	ProcessingStarted   *time.Time       `json:"processing_started,omitempty" db:"processing_started"`
	ProcessingCompleted *time.Time       `json:"processing_completed,omitempty" db:"processing_completed"`
	Report              Report           `json:"accessibility_report_json,omitempty" db:"accessibility_report_json"`
	TaggedPDFPath       string           `json:"tagged_pdf_path,omitempty" db:"tagged_pdf_path"`
	ErrorMessage        string           `json:"error_message,omitempty" db:"error_message"`
	SummaryCounts
}

// PageResult holds the accessibility report for a single page of a document.
type PageResult struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	Report     Report    `json:"accessibility_report_json,omitempty" db:"accessibility_report_json"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	SummaryCounts
}

// NewPageResult builds a page result with counts derived from report.
func NewPageResult(documentID string, page int, report Report) *PageResult {
	return &PageResult{
		DocumentID:    documentID,
		PageNumber:    page,
		Report:        report,
		SummaryCounts: report.Counts(),
	}
}
