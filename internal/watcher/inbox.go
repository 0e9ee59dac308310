package watcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// Importer registers a file as a document. A nil document means the file was already imported.
type Importer interface {
	ImportChanged(ctx context.Context, path string) (*models.Document, error)
}

// Starter begins background processing of a pending document.
type Starter interface {
	StartAsync(ctx context.Context, id string) (*models.Document, error)
}

// Inbox imports settled files and optionally starts processing them.
type Inbox struct {
	importer Importer
	starter  Starter
	logger   *zap.Logger
}

// NewInbox creates an inbox handler. A nil starter leaves imported documents pending.
func NewInbox(importer Importer, starter Starter, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{importer: importer, starter: starter, logger: logger}
}

// Handle is a FileFunc.
func (in *Inbox) Handle(ctx context.Context, path string) {
	doc, err := in.importer.ImportChanged(ctx, path)
	if err != nil {
		in.logger.Warn("inbox import failed", zap.String("path", path), zap.Error(err))
		return
	}
	if doc == nil {
		return
	}
	in.logger.Info("inbox file imported", zap.String("path", path), zap.String("document_id", doc.ID))
	if in.starter == nil {
		return
	}
	if _, err := in.starter.StartAsync(ctx, doc.ID); err != nil {
		in.logger.Warn("inbox processing not started", zap.String("document_id", doc.ID), zap.Error(err))
	}
}
