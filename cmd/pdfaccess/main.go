// Package main is the pdfaccess CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/checker"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/cli"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/config"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/server"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/watcher"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/pdfaccess/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if present; when neither exists, defaults relative to the current
// directory are used. Returns the config and the path it was resolved against.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
			if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
				cfg, err := config.LoadOrDefault(fallback)
				return cfg, fallback, err
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "init":
		runInit(args)
	case "server":
		runServer(args)
	case "upload":
		runUpload(args)
	case "process":
		runProcess(args)
	case "fill-pages":
		runFillPages(args)
	case "list":
		runList(args)
	case "show":
		runShow(args)
	case "delete":
		runDelete(args)
	case "pipelines":
		runPipelines(args)
	case "check":
		runCheck(args)
	case "version", "--version", "-v":
		fmt.Printf("pdfaccess version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// command is the shared state of a subcommand: parsed flags, config, logger and components.
type command struct {
	fs         *flag.FlagSet
	configPath *string
	format     *string
	debug      *bool

	cfg        *config.Config
	logger     *zap.Logger
	components *Components
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &command{
		fs:         fs,
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		format:     fs.String("format", "text", "output format: text or json"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// parse parses args with flags allowed after positionals, then requires at least minArgs positionals.
func (c *command) parse(args []string, minArgs int, usage string) {
	_ = c.fs.Parse(argsReorder(args))
	if c.fs.NArg() < minArgs {
		fmt.Printf("Usage: pdfaccess %s\n", usage)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes components.
func (c *command) setup(ctx context.Context) {
	cfg, resolved, err := loadConfig(*c.configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	c.cfg = cfg
	debugMode := cfg.Debug || *c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	c.logger = logger
	logger.Debug("config loaded", zap.String("config_path", resolved))

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	c.components = components
}

func (c *command) close() {
	if c.components != nil {
		c.components.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *command) outputFormat() cli.OutputFormat {
	return cli.ParseFormat(*c.format)
}

func (c *command) fail(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	c.close()
	os.Exit(1)
}

// runInit writes a config file holding the defaults.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(argsReorder(args))

	if err := writeDefaultConfig(*path, *force); err != nil {
		fmt.Printf("Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *path)
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

func runServer(args []string) {
	c := newCommand("server")
	c.parse(args, 0, "server [flags]")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.setup(ctx)
	defer c.close()
	cfg, logger, comp := c.cfg, c.logger, c.components

	if len(cfg.Watch.Directories) > 0 {
		var starter watcher.Starter
		if cfg.Watch.AutoProcess {
			starter = comp.Orchestrator
		}
		inbox := watcher.NewInbox(comp.Ingest, starter, logger)
		w := watcher.New(cfg.Watch.Directories, inbox.Handle,
			watcher.WithDebounce(cfg.Watch.Debounce), watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.SyncExisting(ctx)
	}

	srv := server.NewServer(comp.Storage, comp.Ingest, comp.Orchestrator, comp.Registry.Describe(), cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runUpload(args []string) {
	c := newCommand("upload")
	process := c.fs.Bool("process", false, "process each uploaded document immediately")
	c.parse(args, 1, "upload [flags] <file-or-directory>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	path := c.fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		c.fail("Failed to stat path: %v", err)
	}
	var docs []*models.Document
	if info.IsDir() {
		docs, err = c.components.Ingest.ImportDirectory(ctx, path)
	} else {
		var doc *models.Document
		doc, err = c.components.Ingest.ImportFile(ctx, path)
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	if err != nil {
		c.fail("Upload failed: %v", err)
	}

	if *process {
		for _, doc := range docs {
			if err := c.components.Orchestrator.Run(ctx, doc.ID); err != nil {
				c.logger.Error("processing failed", zap.String("document_id", doc.ID), zap.Error(err))
			}
		}
		docs = reload(ctx, c.components.Storage, docs)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, c.outputFormat()); err != nil {
		c.fail("Output failed: %v", err)
	}
}

func runProcess(args []string) {
	c := newCommand("process")
	c.parse(args, 1, "process [flags] <document-id>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	id := c.fs.Arg(0)
	if err := c.components.Orchestrator.Run(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.fail("Document not found: %s", id)
		}
		c.logger.Error("processing failed", zap.String("document_id", id), zap.Error(err))
	}
	c.writeDetail(ctx, id)
}

func runFillPages(args []string) {
	c := newCommand("fill-pages")
	c.parse(args, 1, "fill-pages [flags] <document-id>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	id := c.fs.Arg(0)
	n, err := c.components.Orchestrator.FillMissingPages(ctx, id)
	if err != nil {
		c.fail("Page backfill failed: %v", err)
	}
	fmt.Printf("Added %d page result(s) to %s\n", n, id)
}

func runList(args []string) {
	c := newCommand("list")
	status := c.fs.String("status", "", "filter by status: pending, processing, completed, failed")
	skip := c.fs.Int("skip", 0, "number of documents to skip")
	limit := c.fs.Int("limit", 100, "maximum number of documents")
	c.parse(args, 0, "list [flags]")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	q := models.ListQuery{Skip: *skip, Limit: *limit, Status: models.ProcessingStatus(*status)}
	if err := q.Validate(); err != nil {
		c.fail("Invalid query: %v", err)
	}
	docs, err := c.components.Storage.ListDocuments(ctx, q)
	if err != nil {
		c.fail("List failed: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, c.outputFormat()); err != nil {
		c.fail("Output failed: %v", err)
	}
}

func runShow(args []string) {
	c := newCommand("show")
	c.parse(args, 1, "show [flags] <document-id>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()
	c.writeDetail(ctx, c.fs.Arg(0))
}

func (c *command) writeDetail(ctx context.Context, id string) {
	store := c.components.Storage
	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		c.fail("Document not found: %s", id)
	}
	pages, err := store.ListPageResults(ctx, id)
	if err != nil {
		c.fail("Failed to load page results: %v", err)
	}
	runs, err := store.ListPipelineRuns(ctx, id)
	if err != nil {
		c.fail("Failed to load pipeline runs: %v", err)
	}
	detail := &models.DocumentDetail{Document: doc, Pages: pages, PipelineRuns: runs, PagesProcessed: len(pages)}
	if err := cli.WriteDocumentDetail(os.Stdout, detail, c.outputFormat()); err != nil {
		c.fail("Output failed: %v", err)
	}
}

func runDelete(args []string) {
	c := newCommand("delete")
	c.parse(args, 1, "delete [flags] <document-id>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	id := c.fs.Arg(0)
	if err := c.components.Ingest.Delete(ctx, id); err != nil {
		c.fail("Deletion failed: %v", err)
	}
	fmt.Printf("Document deleted: %s\n", id)
}

func runPipelines(args []string) {
	c := newCommand("pipelines")
	c.parse(args, 0, "pipelines [flags]")
	c.setup(context.Background())
	defer c.close()
	if err := cli.WritePipelines(os.Stdout, c.components.Registry.Describe(), c.outputFormat()); err != nil {
		c.fail("Output failed: %v", err)
	}
}

func runCheck(args []string) {
	c := newCommand("check")
	pages := c.fs.String("pages", "", "page or range to check, e.g. 3 or 2-5 (default: whole document)")
	c.parse(args, 1, "check [flags] <file.pdf>")
	ctx := context.Background()
	c.setup(ctx)
	defer c.close()

	rng, err := parsePageRange(*pages)
	if err != nil {
		c.fail("Invalid --pages: %v", err)
	}
	chk, err := c.components.NewChecker()
	if err != nil {
		c.fail("Failed to create checker: %v", err)
	}
	res, err := chk.Check(ctx, c.fs.Arg(0), rng)
	if err != nil {
		c.fail("Check failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, res.Report, c.outputFormat()); err != nil {
		c.fail("Output failed: %v", err)
	}
	if res.TaggedPDFPath != "" && c.outputFormat() == cli.OutputText {
		fmt.Printf("\nTagged copy: %s\n", res.TaggedPDFPath)
	}
}

// parsePageRange parses "", "N" or "A-B". An empty value is the whole document.
func parsePageRange(s string) (*checker.PageRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var start, end int
	if strings.Contains(s, "-") {
		if _, err := fmt.Sscanf(s, "%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("expected A-B, got %q", s)
		}
	} else {
		if _, err := fmt.Sscanf(s, "%d", &start); err != nil {
			return nil, fmt.Errorf("expected a page number, got %q", s)
		}
		end = start
	}
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid range %d-%d", start, end)
	}
	return &checker.PageRange{Start: start, End: end}, nil
}

func reload(ctx context.Context, store storage.Storage, docs []*models.Document) []*models.Document {
	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		if fresh, err := store.GetDocument(ctx, d.ID); err == nil {
			out = append(out, fresh)
		} else {
			out = append(out, d)
		}
	}
	return out
}

// argsReorder moves flags (and their values) that appear after positional arguments
// to the front so that flag.Parse sees them. Go's flag package stops at the first
// non-flag argument, so "pdfaccess show <id> --format json" would otherwise ignore --format.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printUsage() {
	fmt.Println(`pdfaccess - PDF accessibility checking and remediation service

Usage:
  pdfaccess init [flags]                   Write a config file with the defaults
  pdfaccess server [flags]                 Start the HTTP API (and inbox watcher when configured)
  pdfaccess upload [flags] <file|dir>      Import PDF files as pending documents
  pdfaccess process [flags] <id>           Check a pending document and run the pipelines
  pdfaccess fill-pages [flags] <id>        Compute page results that are missing
  pdfaccess list [flags]                   List documents, newest first
  pdfaccess show [flags] <id>              Show a document with page results and pipeline runs
  pdfaccess delete [flags] <id>            Delete a document and its files
  pdfaccess pipelines [flags]              List registered pipelines
  pdfaccess check [flags] <file.pdf>       Run the accessibility checker once and print the report
  pdfaccess version                        Show version
  pdfaccess help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/pdfaccess/config.yaml, or ./config.yaml)
  --format string    Output format: text or json (default: text)
  --debug            Enable debug logging

Command Flags:
  upload --process          Process each imported document right away
  list --status string      Filter by status
  list --skip int           Documents to skip
  list --limit int          Maximum documents (default: 100)
  check --pages string      Page or range, e.g. 3 or 2-5

Environment:
  PAGE_PROCESSING_WORKERS    Page fan-out concurrency
  PIPELINES_ATTEMPT_RESOLVE  Attempt automated fixes (1, true or yes)
  GEMINI_API_KEY             Enables Gemini filename suggestions
  PDFACCESS_CHECKER_URL      Remote accessibility service (selects the remote checker)
  PDFACCESS_CHECKER_TOKEN    Bearer token for the remote service

Examples:
  pdfaccess upload --process ./forms/application.pdf
  pdfaccess list --status failed --format json
  pdfaccess show 6f1c0c2e-... --format json
  pdfaccess check --pages 1-2 report.pdf`)
}
