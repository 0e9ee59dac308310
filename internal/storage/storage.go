// Package storage defines the persistence interface for documents, page results and pipeline runs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a conditional status change finds the document in another state.
	ErrStatusConflict = errors.New("status conflict")
)

// Storage defines document, page result and pipeline run persistence.
// Each method commits as a single atomic unit.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, q models.ListQuery) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	UpdateDocumentFilename(ctx context.Context, id, filename string) error

	// Status transitions
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	CompleteDocument(ctx context.Context, id string, report models.Report, taggedPath string, completedAt time.Time) error
	FailDocument(ctx context.Context, id, message string, failedAt time.Time) error

	// Page results
	BatchCreatePageResults(ctx context.Context, results []*models.PageResult) error
	ListPageResults(ctx context.Context, docID string) ([]*models.PageResult, error)
	PageNumbers(ctx context.Context, docID string) ([]int, error)

	// Pipeline runs
	CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error
	ListPipelineRuns(ctx context.Context, docID string) ([]*models.PipelineRun, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountPageResults(ctx context.Context, docID string) (int64, error)
	CountPipelineRuns(ctx context.Context, docID string) (int64, error)

	Close() error
}
