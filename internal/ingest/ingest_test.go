package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/orchestrator"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/prepare"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/testpdf"
)

func newService(t *testing.T, maxBytes int64, opts ...Option) (*Service, storage.Storage, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc, err := New(store, Config{
		UploadDir: filepath.Join(dir, "uploads"),
		OutputDir: filepath.Join(dir, "out"),
		MaxBytes:  maxBytes,
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc, store, dir
}

func uploadEntries(t *testing.T, svc *Service) []string {
	t.Helper()
	entries, err := os.ReadDir(svc.uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestImport_createsPendingDocument(t *testing.T) {
	svc, store, _ := newService(t, 0)
	ctx := context.Background()
	content := testpdf.Build(testpdf.Options{Pages: testpdf.Pages(2)})

	doc, err := svc.Import(ctx, bytes.NewReader(content), "Annual Report (final).pdf")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StatusPending {
		t.Errorf("status: got %s", doc.Status)
	}
	if doc.Filename != "Annual Report (final).pdf" || doc.OriginalFilename != doc.Filename {
		t.Errorf("names: %q / %q", doc.Filename, doc.OriginalFilename)
	}
	if doc.FileSize != int64(len(content)) {
		t.Errorf("size: got %d, want %d", doc.FileSize, len(content))
	}
	wantBase := doc.ID + "_Annual_Report_final_.pdf"
	if filepath.Base(doc.FilePath) != wantBase {
		t.Errorf("stored name: got %s, want %s", filepath.Base(doc.FilePath), wantBase)
	}
	stored, err := os.ReadFile(doc.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, content) {
		t.Error("stored content differs from upload")
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FilePath != doc.FilePath {
		t.Errorf("persisted path: %s", got.FilePath)
	}
}

func TestImport_windowsStyleName(t *testing.T) {
	svc, _, _ := newService(t, 0)
	doc, err := svc.Import(context.Background(), strings.NewReader("%PDF-1.4\n"), `C:\Users\me\form.pdf`)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Filename != "form.pdf" {
		t.Errorf("filename: got %q", doc.Filename)
	}
}

func TestImport_rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		maxBytes int64
		want     error
	}{
		{"wrong extension", "notes.txt", "%PDF-1.4\n", 0, ErrUnsupportedType},
		{"no extension", "report", "%PDF-1.4\n", 0, ErrUnsupportedType},
		{"missing header", "fake.pdf", "hello world", 0, ErrNotPDF},
		{"empty", "empty.pdf", "", 0, ErrNotPDF},
		{"too large", "big.pdf", "%PDF-1.4\n" + strings.Repeat("x", 100), 50, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newService(t, tt.maxBytes)
			_, err := svc.Import(context.Background(), strings.NewReader(tt.content), tt.filename)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if names := uploadEntries(t, svc); len(names) != 0 {
				t.Errorf("upload dir not clean: %v", names)
			}
			if n, _ := store.CountDocuments(context.Background()); n != 0 {
				t.Errorf("expected no documents, got %d", n)
			}
		})
	}
}

func TestImport_uppercaseExtensionAndExactLimit(t *testing.T) {
	content := "%PDF-1.4\n%%EOF"
	svc, _, _ := newService(t, int64(len(content)))
	if _, err := svc.Import(context.Background(), strings.NewReader(content), "SCAN.PDF"); err != nil {
		t.Fatalf("file at the limit should be accepted: %v", err)
	}
}

func TestImport_validator(t *testing.T) {
	boom := errors.New("broken xref")
	svc, _, _ := newService(t, 0, WithValidator(func(string) error { return boom }))
	_, err := svc.Import(context.Background(), strings.NewReader("%PDF-1.4\n"), "a.pdf")
	if !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken xref") {
		t.Errorf("cause missing from %q", err.Error())
	}
	if names := uploadEntries(t, svc); len(names) != 0 {
		t.Errorf("upload dir not clean: %v", names)
	}
}

func TestPdfcpuValidator(t *testing.T) {
	dir := t.TempDir()
	good := testpdf.Write(t, dir, "good.pdf", testpdf.Options{Pages: testpdf.Pages(1)})
	if err := PdfcpuValidator(good); err != nil {
		t.Errorf("generated PDF should validate: %v", err)
	}
	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("%PDF-1.4\nnot really a pdf"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := PdfcpuValidator(bad); err == nil {
		t.Error("expected truncated PDF to fail validation")
	}
}

func TestImportChanged_skipsSameVersion(t *testing.T) {
	svc, _, dir := newService(t, 0)
	ctx := context.Background()
	path := testpdf.Write(t, dir, "inbox.pdf", testpdf.Options{Pages: testpdf.Pages(1)})

	first, err := svc.ImportChanged(ctx, path)
	if err != nil || first == nil {
		t.Fatalf("first import: %v, %v", first, err)
	}
	again, err := svc.ImportChanged(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("unchanged file should not be imported twice")
	}

	// A different size is a new version.
	testpdf.Write(t, dir, "inbox.pdf", testpdf.Options{Pages: testpdf.Pages(3)})
	changed, err := svc.ImportChanged(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if changed == nil || changed.ID == first.ID {
		t.Errorf("changed file should produce a new document, got %+v", changed)
	}
}

func TestImportChanged_failureIsRetried(t *testing.T) {
	svc, _, dir := newService(t, 0)
	path := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(path, []byte("nope"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ImportChanged(context.Background(), path); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	if _, ok := svc.seen[path]; ok {
		t.Error("failed import should not be remembered")
	}
}

func TestImportDirectory(t *testing.T) {
	svc, store, dir := newService(t, 0)
	inbox := filepath.Join(dir, "inbox")
	testpdf.Write(t, inbox, "a.pdf", testpdf.Options{Pages: testpdf.Pages(1)})
	testpdf.Write(t, filepath.Join(inbox, "sub"), "b.PDF", testpdf.Options{Pages: testpdf.Pages(1)})
	if err := os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("skip me"), 0600); err != nil {
		t.Fatal(err)
	}

	docs, err := svc.ImportDirectory(context.Background(), inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if n, _ := store.CountDocuments(context.Background()); n != 2 {
		t.Errorf("stored documents: %d", n)
	}

	docs, err = svc.ImportDirectory(context.Background(), inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("second walk should import nothing, got %d", len(docs))
	}

	if _, err := svc.ImportDirectory(context.Background(), filepath.Join(inbox, "a.pdf")); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestDelete_removesFiles(t *testing.T) {
	svc, store, dir := newService(t, 0)
	ctx := context.Background()
	doc, err := svc.Import(ctx, strings.NewReader("%PDF-1.4\n"), "a.pdf")
	if err != nil {
		t.Fatal(err)
	}

	tagged := filepath.Join(dir, "out", "tagged", "a_tagged.pdf")
	if err := os.MkdirAll(filepath.Dir(tagged), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tagged, []byte("%PDF-1.4\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkProcessing(ctx, doc.ID, doc.UploadedAt); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteDocument(ctx, doc.ID, models.Report{}, tagged, doc.UploadedAt); err != nil {
		t.Fatal(err)
	}
	artifacts := orchestrator.PipelineOutputDir(filepath.Join(dir, "out"), doc.ID)
	if err := os.MkdirAll(filepath.Join(artifacts, "filename-from-h1"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{doc.FilePath, tagged, artifacts} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", p)
		}
	}
	if _, err := store.GetDocument(ctx, doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestIsPDFName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.pdf", true},
		{"A.PDF", true},
		{"dir/b.Pdf", true},
		{"c.pdf.txt", false},
		{"pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPDFName(tt.name); got != tt.want {
			t.Errorf("IsPDFName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDelete_discardsPreparedCopies(t *testing.T) {
	preparedDir := filepath.Join(t.TempDir(), "prepared")
	pdfcpu, err := prepare.NewPdfcpuPreparer(preparedDir)
	if err != nil {
		t.Fatal(err)
	}
	preparer := prepare.NewResourcePreparer(pdfcpu)
	svc, _, _ := newService(t, 0, WithForgetter(preparer))
	ctx := context.Background()

	src := testpdf.Write(t, t.TempDir(), "report.pdf", testpdf.Options{Pages: testpdf.Pages(2)})
	keep, err := svc.ImportFile(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := svc.ImportFile(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range []*models.Document{keep, doc} {
		if got := preparer.PrepareFile(ctx, d.FilePath); got == d.FilePath {
			t.Fatalf("preparation fell back for %s", d.FilePath)
		}
	}
	if entries, _ := os.ReadDir(preparedDir); len(entries) != 2 {
		t.Fatalf("prepared copies: %d", len(entries))
	}

	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(preparedDir)
	if len(entries) != 1 {
		t.Fatalf("prepared copies after delete: %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), strings.TrimSuffix(filepath.Base(keep.FilePath), ".pdf")+"_") {
		t.Errorf("wrong copy removed, left %s", entries[0].Name())
	}
}
