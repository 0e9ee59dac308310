package models

import "time"

// StatusResponse is the processing status view of a document.
type StatusResponse struct {
	ID                  string           `json:"id"`
	Status              ProcessingStatus `json:"status"`
	ProcessingStarted   *time.Time       `json:"processing_started,omitempty"`
	ProcessingCompleted *time.Time       `json:"processing_completed,omitempty"`
	ErrorMessage        string           `json:"error_message,omitempty"`
}

// StatusOf builds the status view for doc.
func StatusOf(doc *Document) *StatusResponse {
	return &StatusResponse{
		ID:                  doc.ID,
		Status:              doc.Status,
		ProcessingStarted:   doc.ProcessingStarted,
		ProcessingCompleted: doc.ProcessingCompleted,
		ErrorMessage:        doc.ErrorMessage,
	}
}

// DocumentDetail is a document together with its page and pipeline results.
type DocumentDetail struct {
	*Document
	Pages        []*PageResult  `json:"page_results"`
	PipelineRuns []*PipelineRun `json:"pipeline_runs"`
	// PagesProcessed lets clients tell whether a backfill is needed.
	PagesProcessed int `json:"pages_processed"`
}
