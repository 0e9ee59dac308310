package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/checker"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/config"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/ingest"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/naming"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/orchestrator"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/pipelines"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/prepare"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Ingest       *ingest.Service
	Registry     *pipelines.Registry
	Orchestrator *orchestrator.Orchestrator
	NewChecker   checker.Factory

	closers []func() error
}

// Close waits for background processing, then releases resources.
func (c *Components) Close() {
	if c.Orchestrator != nil {
		c.Orchestrator.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store
	c.closers = append(c.closers, store.Close)

	c.NewChecker, err = checkerFactory(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	namer, closeNamer := newNamer(ctx, cfg, logger)
	if closeNamer != nil {
		c.closers = append(c.closers, closeNamer)
	}
	c.Registry = pipelines.NewDefaultRegistry(namer, logger)
	manager := pipelines.NewManager(c.Registry,
		pipelines.ManagerConfig{AttemptResolve: cfg.Processing.AttemptResolve},
		pipelines.WithLogger(logger))

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	ingestOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithValidator(ingest.PdfcpuValidator)}
	if cfg.Processing.PrepareOrDefault() {
		pdfcpu, err := prepare.NewPdfcpuPreparer(cfg.Storage.PreparedDir)
		if err != nil {
			c.Close()
			return nil, err
		}
		preparer := prepare.NewResourcePreparer(pdfcpu, prepare.WithLogger(logger))
		opts = append(opts, orchestrator.WithPreparer(preparer))
		ingestOpts = append(ingestOpts, ingest.WithForgetter(preparer))
	}
	c.Orchestrator = orchestrator.New(store, c.NewChecker, manager, orchestrator.Config{
		PageWorkers: cfg.Processing.PageWorkers,
		OutputDir:   cfg.Storage.OutputDir,
	}, opts...)

	c.Ingest, err = ingest.New(store, ingest.Config{
		UploadDir: cfg.Storage.UploadDir,
		OutputDir: cfg.Storage.OutputDir,
		MaxBytes:  cfg.Server.MaxUploadBytes(),
	}, ingestOpts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// checkerFactory selects the local or remote checker. A remote URL is validated up front.
func checkerFactory(cfg *config.Config, logger *zap.Logger) (checker.Factory, error) {
	taggedDir := cfg.Storage.TaggedDir()
	switch cfg.Checker.Mode {
	case config.CheckerRemote:
		build := func() (checker.AccessibilityChecker, error) {
			c, err := checker.NewHTTPChecker(cfg.Checker.URL, taggedDir, cfg.Checker.Timeout,
				checker.WithToken(cfg.Checker.Token), checker.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		if _, err := build(); err != nil {
			return nil, fmt.Errorf("invalid checker configuration: %w", err)
		}
		return build, nil
	default:
		return func() (checker.AccessibilityChecker, error) {
			return checker.NewLocalChecker(taggedDir, logger), nil
		}, nil
	}
}

// newNamer returns the Gemini suggester behind a heuristic fallback when an API key is configured.
func newNamer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (naming.Suggester, func() error) {
	if cfg.Naming.APIKey == "" {
		return naming.Heuristic{}, nil
	}
	gemini, err := naming.NewGeminiSuggester(ctx, cfg.Naming.APIKey, cfg.Naming.Model)
	if err != nil {
		logger.Warn("Gemini naming unavailable, using heuristic names", zap.Error(err))
		return naming.Heuristic{}, nil
	}
	return naming.WithFallback(gemini, logger), gemini.Close
}
