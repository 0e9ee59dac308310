package models

import "fmt"

// ListQuery is a paginated document listing request.
type ListQuery struct {
	Skip   int              `json:"skip,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Status ProcessingStatus `json:"status,omitempty"` // optional filter
}

// Validate normalizes pagination and rejects unknown status filters.
func (q *ListQuery) Validate() error {
	if q.Skip < 0 {
		return fmt.Errorf("skip cannot be negative")
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	switch q.Status {
	case "", StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown status filter: %s", q.Status)
	}
}
