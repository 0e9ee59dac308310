package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/config"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/ingest"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/orchestrator"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/pipelines"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/testpdf"
)

type fakeProcessor struct {
	store   storage.Storage
	filled  []string
	started []string
}

// StartAsync mirrors the orchestrator's state checks without processing anything.
func (f *fakeProcessor) StartAsync(ctx context.Context, id string) (*models.Document, error) {
	doc, err := f.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusPending {
		return nil, &orchestrator.InvalidStateError{DocumentID: id, Status: doc.Status}
	}
	if err := f.store.MarkProcessing(ctx, id, time.Now()); err != nil {
		return nil, err
	}
	f.started = append(f.started, id)
	return f.store.GetDocument(ctx, id)
}

func (f *fakeProcessor) FillMissingPagesAsync(_ context.Context, id string) {
	f.filled = append(f.filled, id)
}

type fixture struct {
	srv   *Server
	store storage.Storage
	proc  *fakeProcessor
	dir   string
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{
		DatabasePath: filepath.Join(dir, "db.sqlite"),
		UploadDir:    filepath.Join(dir, "uploads"),
		OutputDir:    filepath.Join(dir, "out"),
		PreparedDir:  filepath.Join(dir, "prepared"),
	}
	config.ApplyDefaults(cfg)

	svc, err := ingest.New(store, ingest.Config{
		UploadDir: cfg.Storage.UploadDir,
		OutputDir: cfg.Storage.OutputDir,
		MaxBytes:  maxBytes,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc := &fakeProcessor{store: store}
	registry := pipelines.NewDefaultRegistry(nil, zap.NewNop())
	srv := NewServer(store, svc, proc, registry.Describe(), cfg, zap.NewNop())
	return &fixture{srv: srv, store: store, proc: proc, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func multipartFile(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, name string) *models.Document {
	t.Helper()
	body, ct := multipartFile(t, "file", name, testpdf.Build(testpdf.Options{Pages: testpdf.Pages(2)}))
	w := f.do(t, http.MethodPost, "/api/v1/upload", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var doc models.Document
	decode(t, w, &doc)
	return &doc
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	decode(t, w, &out)
	return out["error"]
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var out map[string]interface{}
	decode(t, w, &out)
	if out["status"] != "ok" {
		t.Errorf("body: %v", out)
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Errorf("expected disk usage in %v", out)
	}
}

func TestHandleUpload(t *testing.T) {
	f := newFixture(t, 0)
	doc := f.upload(t, "Annual Report.pdf")
	if doc.ID == "" || doc.Status != models.StatusPending || doc.Filename != "Annual Report.pdf" {
		t.Errorf("document: %+v", doc)
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Errorf("stored upload missing: %v", err)
	}
}

func TestHandleUpload_errors(t *testing.T) {
	t.Run("wrong type", func(t *testing.T) {
		f := newFixture(t, 0)
		body, ct := multipartFile(t, "file", "notes.txt", []byte("%PDF-1.4"))
		w := f.do(t, http.MethodPost, "/api/v1/upload", body, ct)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status: %d", w.Code)
		}
		if msg := errorMessage(t, w); msg != ingest.ErrUnsupportedType.Error() {
			t.Errorf("message: %q", msg)
		}
	})
	t.Run("not a pdf", func(t *testing.T) {
		f := newFixture(t, 0)
		body, ct := multipartFile(t, "file", "fake.pdf", []byte("GIF89a"))
		if w := f.do(t, http.MethodPost, "/api/v1/upload", body, ct); w.Code != http.StatusBadRequest {
			t.Errorf("status: %d", w.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		f := newFixture(t, 16)
		body, ct := multipartFile(t, "file", "big.pdf", []byte("%PDF-1.4\n"+strings.Repeat("0", 64)))
		if w := f.do(t, http.MethodPost, "/api/v1/upload", body, ct); w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status: %d", w.Code)
		}
	})
	t.Run("missing field", func(t *testing.T) {
		f := newFixture(t, 0)
		body, ct := multipartFile(t, "document", "a.pdf", []byte("%PDF-1.4"))
		if w := f.do(t, http.MethodPost, "/api/v1/upload", body, ct); w.Code != http.StatusBadRequest {
			t.Errorf("status: %d", w.Code)
		}
	})
}

func TestHandleListDocuments(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "a.pdf")
	f.upload(t, "b.pdf")

	w := f.do(t, http.MethodGet, "/api/v1/documents?limit=1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
		Limit     int                `json:"limit"`
	}
	decode(t, w, &out)
	if len(out.Documents) != 1 || out.Limit != 1 {
		t.Errorf("got %d documents, limit %d", len(out.Documents), out.Limit)
	}

	for _, target := range []string{
		"/api/v1/documents?limit=abc",
		"/api/v1/documents?skip=-1",
		"/api/v1/documents?status=archived",
	} {
		if w := f.do(t, http.MethodGet, target, nil, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", target, w.Code)
		}
	}
}

func TestHandleGetDocument(t *testing.T) {
	f := newFixture(t, 0)
	doc := f.upload(t, "a.pdf")

	w := f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var detail struct {
		ID           string        `json:"id"`
		Pages        []interface{} `json:"page_results"`
		PipelineRuns []interface{} `json:"pipeline_runs"`
	}
	decode(t, w, &detail)
	if detail.ID != doc.ID || detail.Pages == nil || detail.PipelineRuns == nil {
		t.Errorf("detail: %+v", detail)
	}

	for _, target := range []string{
		"/api/v1/documents/missing",
		"/api/v1/documents/missing/pages",
		"/api/v1/documents/missing/pipelines",
		"/api/v1/documents/missing/download",
		"/api/v1/status/missing",
	} {
		if w := f.do(t, http.MethodGet, target, nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d", target, w.Code)
		}
	}
}

func TestHandlePagesAndRuns(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	doc := f.upload(t, "a.pdf")
	results := []*models.PageResult{
		models.NewPageResult(doc.ID, 2, models.Report{"Summary": map[string]interface{}{"Failed": 1}}),
		models.NewPageResult(doc.ID, 1, models.Report{"Summary": map[string]interface{}{"Passed": 3}}),
	}
	if err := f.store.BatchCreatePageResults(ctx, results); err != nil {
		t.Fatal(err)
	}
	run := &models.PipelineRun{DocumentID: doc.ID, PipelineSlug: pipelines.H1PresenceSlug, Status: models.RunSucceeded}
	if err := f.store.CreatePipelineRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/pages", nil, "")
	var pages []*models.PageResult
	decode(t, w, &pages)
	if len(pages) != 2 || pages[0].PageNumber != 1 || pages[0].TotalPassed != 3 {
		t.Errorf("pages: %+v", pages)
	}

	w = f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/pipelines", nil, "")
	var runs []*models.PipelineRun
	decode(t, w, &runs)
	if len(runs) != 1 || runs[0].PipelineSlug != pipelines.H1PresenceSlug {
		t.Errorf("runs: %+v", runs)
	}
}

func TestHandleProcess(t *testing.T) {
	f := newFixture(t, 0)
	doc := f.upload(t, "a.pdf")

	w := f.do(t, http.MethodPost, "/api/v1/process/"+doc.ID, nil, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var status models.StatusResponse
	decode(t, w, &status)
	if status.Status != models.StatusProcessing {
		t.Errorf("status: %+v", status)
	}

	w = f.do(t, http.MethodPost, "/api/v1/process/"+doc.ID, nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("second start: status %d", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "already processing") {
		t.Errorf("message: %q", msg)
	}

	if w := f.do(t, http.MethodPost, "/api/v1/process/missing", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown: status %d", w.Code)
	}
	if len(f.proc.started) != 1 {
		t.Errorf("started: %v", f.proc.started)
	}

	w = f.do(t, http.MethodGet, "/api/v1/status/"+doc.ID, nil, "")
	decode(t, w, &status)
	if status.Status != models.StatusProcessing || status.ProcessingStarted == nil {
		t.Errorf("status view: %+v", status)
	}
}

func TestHandleFillPages(t *testing.T) {
	f := newFixture(t, 0)
	doc := f.upload(t, "a.pdf")

	if w := f.do(t, http.MethodPost, "/api/v1/process/"+doc.ID+"/pages", nil, ""); w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}
	if len(f.proc.filled) != 1 || f.proc.filled[0] != doc.ID {
		t.Errorf("filled: %v", f.proc.filled)
	}

	if err := f.store.MarkProcessing(context.Background(), doc.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/process/"+doc.ID+"/pages", nil, ""); w.Code != http.StatusAccepted {
		t.Errorf("while processing: status %d", w.Code)
	}
	if len(f.proc.filled) != 2 {
		t.Errorf("backfill should run regardless of status: %v", f.proc.filled)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/process/missing/pages", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown: status %d", w.Code)
	}
}

func TestHandleDownload(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	doc := f.upload(t, "Annual Report.pdf")

	if w := f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("before processing: status %d", w.Code)
	}

	tagged := filepath.Join(f.dir, "out", "tagged", "a_tagged.pdf")
	if err := os.MkdirAll(filepath.Dir(tagged), 0755); err != nil {
		t.Fatal(err)
	}
	content := []byte("%PDF-1.4 tagged")
	if err := os.WriteFile(tagged, content, 0600); err != nil {
		t.Fatal(err)
	}
	if err := f.store.MarkProcessing(ctx, doc.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CompleteDocument(ctx, doc.ID, models.Report{}, tagged, time.Now()); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Annual Report_tagged.pdf") {
		t.Errorf("content disposition: %s", cd)
	}
	if !bytes.Equal(w.Body.Bytes(), content) {
		t.Errorf("body: %q", w.Body.String())
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	f := newFixture(t, 0)
	doc := f.upload(t, "a.pdf")

	if w := f.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if _, err := os.Stat(doc.FilePath); !os.IsNotExist(err) {
		t.Error("upload should be removed")
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", w.Code)
	}
}

func TestHandleListPipelines(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(t, http.MethodGet, "/api/v1/pipelines", nil, "")
	var infos []pipelines.Info
	decode(t, w, &infos)
	if len(infos) != 2 || infos[0].Slug != pipelines.H1PresenceSlug || infos[1].Slug != pipelines.FilenameSlug {
		t.Errorf("pipelines: %+v", infos)
	}
}
