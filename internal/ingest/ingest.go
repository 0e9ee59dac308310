// Package ingest imports PDF files into the upload directory and registers them as pending documents.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/fileid"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/orchestrator"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/pkg/utils"
)

var (
	// ErrUnsupportedType is returned for files without a .pdf extension.
	ErrUnsupportedType = errors.New("only PDF files are accepted")
	// ErrTooLarge is returned when the upload exceeds the configured limit.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
	// ErrNotPDF is returned when the content does not start with a PDF header.
	ErrNotPDF = errors.New("file is not a PDF")
	// ErrInvalidPDF wraps validator failures.
	ErrInvalidPDF = errors.New("invalid PDF")
)

var pdfHeader = []byte("%PDF-")

// Validator inspects a staged upload before it is registered.
type Validator func(path string) error

// PdfcpuValidator validates the file structure with pdfcpu in relaxed mode.
func PdfcpuValidator(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, cfg)
}

// Config holds ingestion limits and locations.
type Config struct {
	UploadDir string
	OutputDir string
	// MaxBytes is the upload size limit; zero means unlimited.
	MaxBytes int64
}

// Forgetter releases anything cached for a source file that is being deleted.
type Forgetter interface {
	Forget(path string)
}

// Service stores uploaded PDFs and creates their documents.
type Service struct {
	store     storage.Storage
	uploadDir string
	outputDir string
	maxBytes  int64
	validate  Validator
	forget    Forgetter
	logger    *zap.Logger

	mu   sync.Mutex
	seen map[string]string // absolute source path -> fingerprint of the last import
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for import and delete events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithValidator sets a structural check run on every staged upload.
func WithValidator(v Validator) Option {
	return func(s *Service) { s.validate = v }
}

// WithForgetter sets what is told about deleted uploads, usually the preparation cache.
func WithForgetter(f Forgetter) Option {
	return func(s *Service) { s.forget = f }
}

// New creates the upload directory if needed.
func New(store storage.Storage, cfg Config, opts ...Option) (*Service, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	s := &Service{
		store:     store,
		uploadDir: cfg.UploadDir,
		outputDir: cfg.OutputDir,
		maxBytes:  cfg.MaxBytes,
		logger:    zap.NewNop(),
		seen:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Import copies r into the upload directory and creates a pending document named after originalName.
func (s *Service) Import(ctx context.Context, r io.Reader, originalName string) (*models.Document, error) {
	name := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	if !IsPDFName(name) {
		return nil, ErrUnsupportedType
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dest := filepath.Join(s.uploadDir, id+"_"+utils.SafeFilename(name))
	size, err := s.stage(r, dest)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:               id,
		Filename:         name,
		OriginalFilename: name,
		FilePath:         dest,
		FileSize:         size,
		Status:           models.StatusPending,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	s.logger.Info("document imported",
		zap.String("document_id", id),
		zap.String("filename", name),
		zap.Int64("size", size))
	return doc, nil
}

// stage writes r to a temporary file, checks it and renames it to dest.
func (s *Service) stage(r io.Reader, dest string) (int64, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfHeader))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read upload: %w", err)
	}
	if !bytes.Equal(head, pdfHeader) {
		return 0, ErrNotPDF
	}

	tmp, err := os.CreateTemp(s.uploadDir, ".upload-*.pdf")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	discard := func() { _ = os.Remove(tmpPath) }

	var src io.Reader = br
	if s.maxBytes > 0 {
		src = io.LimitReader(br, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		discard()
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		discard()
		return 0, ErrTooLarge
	}
	if s.validate != nil {
		if err := s.validate(tmpPath); err != nil {
			discard()
			return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		discard()
		return 0, fmt.Errorf("failed to move upload: %w", err)
	}
	return n, nil
}

// ImportFile imports a file from disk. The display name is the file's base name.
func (s *Service) ImportFile(ctx context.Context, path string) (*models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return s.Import(ctx, f, filepath.Base(absPath))
}

// ImportChanged imports path unless the same version of it was already imported by this service.
// It returns nil, nil for an unchanged file.
func (s *Service) ImportChanged(ctx context.Context, path string) (*models.Document, error) {
	key, err := fileid.Stat(path)
	if err != nil {
		return nil, err
	}
	fp := key.Fingerprint.String()

	s.mu.Lock()
	if s.seen[key.Path] == fp {
		s.mu.Unlock()
		s.logger.Debug("skipping unchanged file", zap.String("path", key.Path))
		return nil, nil
	}
	s.seen[key.Path] = fp
	s.mu.Unlock()

	doc, err := s.ImportFile(ctx, key.Path)
	if err != nil {
		s.mu.Lock()
		if s.seen[key.Path] == fp {
			delete(s.seen, key.Path)
		}
		s.mu.Unlock()
		return nil, err
	}
	return doc, nil
}

// ImportDirectory walks dir recursively and imports each new or changed PDF.
// Returns the documents created and the first error encountered, if any.
func (s *Service) ImportDirectory(ctx context.Context, dir string) ([]*models.Document, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var docs []*models.Document
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !IsPDFName(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// Resolve symlinks so we only import regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		doc, err := s.ImportChanged(ctx, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if doc != nil {
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// Delete removes the document and its files: the stored upload and its prepared copies, the tagged copy
// and the pipeline artifacts.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if s.forget != nil {
		s.forget.Forget(doc.FilePath)
	}
	s.remove(doc.FilePath, false)
	s.remove(doc.TaggedPDFPath, false)
	if s.outputDir != "" {
		s.remove(orchestrator.PipelineOutputDir(s.outputDir, id), true)
	}
	s.logger.Info("document deleted", zap.String("document_id", id))
	return nil
}

func (s *Service) remove(path string, recursive bool) {
	if path == "" {
		return
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove file", zap.String("path", path), zap.Error(err))
	}
}

// IsPDFName reports whether name has a .pdf extension, ignoring case.
func IsPDFName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
