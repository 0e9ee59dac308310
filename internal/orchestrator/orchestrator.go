// Package orchestrator drives a document from Pending to Completed or Failed:
// whole-document check, page fan-out, persistence, pipelines and filename adoption.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/checker"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/fanout"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/pipelines"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/prepare"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
)

// InvalidStateError rejects a transition from the document's current status.
type InvalidStateError struct {
	DocumentID string
	Status     models.ProcessingStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("document %s is already %s", e.DocumentID, e.Status)
}

// Config holds processing settings.
type Config struct {
	// PageWorkers is the page fan-out concurrency; non-positive selects the default.
	PageWorkers int
	// OutputDir is the artifact root; plugin output goes to <OutputDir>/pipelines/<document id>.
	OutputDir string
}

// Orchestrator processes documents. Different documents may be processed concurrently;
// one document must have a single writer at a time.
type Orchestrator struct {
	store      storage.Storage
	newChecker checker.Factory
	counter    checker.PageCounter
	preparer   *prepare.ResourcePreparer
	manager    *pipelines.Manager
	executor   *fanout.Executor
	outputDir  string
	logger     *zap.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithPreparer routes page checks through a shared single-flight preparer.
func WithPreparer(p *prepare.ResourcePreparer) Option {
	return func(o *Orchestrator) {
		o.preparer = p
	}
}

// WithPageCounter replaces the PDF page counter.
func WithPageCounter(c checker.PageCounter) Option {
	return func(o *Orchestrator) {
		o.counter = c
	}
}

// New creates an orchestrator. newChecker is called once for the whole-document
// check and once per fan-out worker.
func New(store storage.Storage, newChecker checker.Factory, manager *pipelines.Manager, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		newChecker: newChecker,
		counter:    checker.PDFPageCounter{},
		manager:    manager,
		outputDir:  cfg.OutputDir,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.executor = fanout.NewExecutor(cfg.PageWorkers, fanout.WithLogger(o.logger))
	return o
}

// Start moves a Pending document to Processing. Any other status is rejected with
// *InvalidStateError and nothing is modified.
func (o *Orchestrator) Start(ctx context.Context, id string) (*models.Document, error) {
	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusPending {
		return nil, &InvalidStateError{DocumentID: id, Status: doc.Status}
	}
	if err := o.store.MarkProcessing(ctx, id, o.now()); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			// Lost a race with another starter.
			if current, getErr := o.store.GetDocument(ctx, id); getErr == nil {
				return nil, &InvalidStateError{DocumentID: id, Status: current.Status}
			}
		}
		return nil, err
	}
	return o.store.GetDocument(ctx, id)
}

// Run starts and processes a document synchronously.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	if _, err := o.Start(ctx, id); err != nil {
		return err
	}
	return o.Process(ctx, id)
}

// StartAsync starts a document and processes it in the background.
// Wait blocks until background work has finished.
func (o *Orchestrator) StartAsync(ctx context.Context, id string) (*models.Document, error) {
	doc, err := o.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.Process(context.WithoutCancel(ctx), id)
	}()
	return doc, nil
}

// FillMissingPagesAsync runs FillMissingPages in the background.
func (o *Orchestrator) FillMissingPagesAsync(ctx context.Context, id string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.FillMissingPages(context.WithoutCancel(ctx), id); err != nil {
			o.logger.Error("page backfill failed", zap.String("document_id", id), zap.Error(err))
		}
	}()
}

// Wait blocks until all background processing started by this orchestrator has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Process runs the processing sequence for a document in Processing. A failure before
// the document is completed marks it Failed with the error text; page results already
// stored are kept. Pipeline failures never fail the document.
func (o *Orchestrator) Process(ctx context.Context, id string) error {
	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusProcessing {
		return &InvalidStateError{DocumentID: id, Status: doc.Status}
	}
	log := o.logger.With(zap.String("document_id", id))
	start := time.Now()

	overall, pages, err := o.analyze(ctx, doc)
	if err != nil {
		log.Error("document processing failed", zap.Error(err))
		if failErr := o.store.FailDocument(context.WithoutCancel(ctx), id, err.Error(), o.now()); failErr != nil {
			return fmt.Errorf("%w (and recording the failure failed: %v)", err, failErr)
		}
		return err
	}
	log.Info("document completed",
		zap.Int("pages", len(pages)),
		zap.Duration("elapsed", time.Since(start)))

	if err := o.runPipelines(ctx, doc, overall, pages); err != nil {
		log.Error("pipeline results could not be stored", zap.Error(err))
		return err
	}
	return nil
}

// analyze covers every step whose failure is fatal to the document.
func (o *Orchestrator) analyze(ctx context.Context, doc *models.Document) (*checker.Result, []fanout.Result[models.Report], error) {
	overall, err := o.checkDocument(ctx, doc.FilePath)
	if err != nil {
		return nil, nil, err
	}

	count, err := o.counter.CountPages(doc.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read PDF page count: %w", err)
	}

	pages, err := o.checkPages(ctx, doc, fanout.Range(count))
	if err != nil {
		return nil, nil, err
	}
	if err := o.store.BatchCreatePageResults(ctx, pageResults(doc.ID, pages)); err != nil {
		return nil, nil, fmt.Errorf("failed to store page results: %w", err)
	}

	if err := o.store.CompleteDocument(ctx, doc.ID, overall.Report, overall.TaggedPDFPath, o.now()); err != nil {
		return nil, nil, fmt.Errorf("failed to store document results: %w", err)
	}
	return overall, pages, nil
}

func (o *Orchestrator) checkDocument(ctx context.Context, path string) (*checker.Result, error) {
	c, err := o.newChecker()
	if err != nil {
		return nil, fmt.Errorf("failed to create accessibility checker: %w", err)
	}
	defer closeChecker(c)
	res, err := c.Check(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("accessibility check failed: %w", err)
	}
	return res, nil
}

// pageWorker owns one checker for the lifetime of a pool goroutine.
type pageWorker struct {
	checker  checker.AccessibilityChecker
	preparer *prepare.ResourcePreparer
	path     string
}

func (w *pageWorker) Process(ctx context.Context, page int) (models.Report, error) {
	src := w.path
	if w.preparer != nil {
		src = w.preparer.PrepareFile(ctx, w.path)
	}
	res, err := w.checker.Check(ctx, src, checker.Single(page))
	if err != nil {
		return nil, err
	}
	return res.Report, nil
}

func (w *pageWorker) Close() error {
	closeChecker(w.checker)
	return nil
}

func (o *Orchestrator) checkPages(ctx context.Context, doc *models.Document, pages []int) ([]fanout.Result[models.Report], error) {
	var factory fanout.WorkerFactory[models.Report] = func(context.Context) (fanout.Worker[models.Report], error) {
		c, err := o.newChecker()
		if err != nil {
			return nil, err
		}
		return &pageWorker{checker: c, preparer: o.preparer, path: doc.FilePath}, nil
	}
	return fanout.Run(ctx, o.executor, pages, factory)
}

// FillMissingPages computes page results only for pages that have none. It neither
// changes document status nor runs pipelines. It returns the number of pages added.
func (o *Orchestrator) FillMissingPages(ctx context.Context, id string) (int, error) {
	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	count, err := o.counter.CountPages(doc.FilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF page count: %w", err)
	}
	existing, err := o.store.PageNumbers(ctx, id)
	if err != nil {
		return 0, err
	}
	have := make(map[int]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}
	var missing []int
	for n := 1; n <= count; n++ {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	pages, err := o.checkPages(ctx, doc, missing)
	if err != nil {
		return 0, err
	}
	if err := o.store.BatchCreatePageResults(ctx, pageResults(id, pages)); err != nil {
		return 0, fmt.Errorf("failed to store page results: %w", err)
	}
	o.logger.Info("filled missing pages", zap.String("document_id", id), zap.Int("pages", len(pages)))
	return len(pages), nil
}

// runPipelines runs the plugins, stores one run per plugin and adopts the suggested file name.
func (o *Orchestrator) runPipelines(ctx context.Context, doc *models.Document, overall *checker.Result, pages []fanout.Result[models.Report]) error {
	if o.manager == nil {
		return nil
	}
	outDir := PipelineOutputDir(o.outputDir, doc.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create pipeline output dir: %w", err)
	}

	pc := &pipelines.Context{
		DocumentID:     doc.ID,
		PDFPath:        doc.FilePath,
		DocumentName:   doc.Filename,
		DocumentReport: overall.Report,
		OutputDir:      outDir,
	}
	for _, p := range pages {
		pc.PageReports = append(pc.PageReports, pipelines.PageReport{PageNumber: p.Unit, Report: p.Value})
	}
	pc.SetMetadata(pipelines.MetaTaggedPDFPath, overall.TaggedPDFPath)
	pc.SetMetadata(pipelines.MetaSourcePDFPath, doc.FilePath)
	pc.SetMetadata(pipelines.MetaPageCount, len(pages))

	results, err := o.manager.Run(ctx, pc)
	if err != nil {
		return err
	}

	chosen := doc.Filename
	var errs []error
	for _, res := range results {
		if err := o.store.CreatePipelineRun(ctx, pipelines.ToPipelineRun(doc.ID, res)); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", res.Slug, err))
		}
		if res.Slug == pipelines.FilenameSlug && res.Identify.HasFindings() {
			if suggested := pipelines.SuggestedName(res.Resolve); suggested != "" {
				chosen = suggested
			}
		}
	}

	if chosen != doc.Filename {
		if err := o.store.UpdateDocumentFilename(ctx, doc.ID, chosen); err != nil {
			errs = append(errs, fmt.Errorf("failed to adopt filename: %w", err))
		} else {
			o.logger.Info("adopted suggested filename",
				zap.String("document_id", doc.ID), zap.String("from", doc.Filename), zap.String("to", chosen))
		}
	}
	return errors.Join(errs...)
}

// PipelineOutputDir is where plugin artifacts for a document are written.
func PipelineOutputDir(outputDir, docID string) string {
	return filepath.Join(outputDir, "pipelines", docID)
}

func pageResults(docID string, pages []fanout.Result[models.Report]) []*models.PageResult {
	out := make([]*models.PageResult, 0, len(pages))
	for _, p := range pages {
		out = append(out, models.NewPageResult(docID, p.Unit, p.Value))
	}
	return out
}

func closeChecker(c checker.AccessibilityChecker) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
