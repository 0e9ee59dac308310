// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Background processing writes from several goroutines; one connection keeps
	// writers from tripping over SQLite lock upgrades.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		upload_timestamp TIMESTAMP NOT NULL,
		processing_started TIMESTAMP,
		processing_completed TIMESTAMP,
		accessibility_report_json TEXT,
		tagged_pdf_path TEXT,
		error_message TEXT,
		total_passed INTEGER NOT NULL DEFAULT 0,
		total_failed INTEGER NOT NULL DEFAULT 0,
		needs_manual_check INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(upload_timestamp);

	CREATE TABLE IF NOT EXISTS page_results (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		accessibility_report_json TEXT,
		total_passed INTEGER NOT NULL DEFAULT 0,
		total_failed INTEGER NOT NULL DEFAULT 0,
		needs_manual_check INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (document_id, page_number),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_page_results_document ON page_results(document_id);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		pipeline_slug TEXT NOT NULL,
		attempt_resolve INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		identify_payload TEXT,
		resolve_payload TEXT,
		errors TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pipeline_runs_document ON pipeline_runs(document_id, created_at);

	CREATE TABLE IF NOT EXISTS pipeline_issues (
		id TEXT PRIMARY KEY,
		pipeline_run_id TEXT NOT NULL,
		issue_code TEXT NOT NULL,
		summary TEXT NOT NULL,
		detail TEXT NOT NULL,
		pages TEXT NOT NULL DEFAULT '[]',
		wcag_references TEXT NOT NULL DEFAULT '[]',
		extra TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (pipeline_run_id) REFERENCES pipeline_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pipeline_issues_run ON pipeline_issues(pipeline_run_id);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, filename, original_filename, file_path, file_size, status, upload_timestamp,
	processing_started, processing_completed, accessibility_report_json, tagged_pdf_path, error_message,
	total_passed, total_failed, needs_manual_check`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var started, completed sql.NullTime
	var reportJSON, tagged, errMsg sql.NullString
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.FilePath, &doc.FileSize,
		&doc.Status, &doc.UploadedAt, &started, &completed, &reportJSON, &tagged, &errMsg,
		&doc.TotalPassed, &doc.TotalFailed, &doc.NeedsManualCheck); err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		doc.ProcessingStarted = &t
	}
	if completed.Valid {
		t := completed.Time
		doc.ProcessingCompleted = &t
	}
	if reportJSON.Valid && reportJSON.String != "" {
		if err := json.Unmarshal([]byte(reportJSON.String), &doc.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
	}
	doc.TaggedPDFPath = tagged.String
	doc.ErrorMessage = errMsg.String
	return &doc, nil
}

// CreateDocument inserts a document. ID, status and upload time are filled in when empty.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, original_filename, file_path, file_size, status, upload_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.OriginalFilename, doc.FilePath, doc.FileSize, doc.Status, doc.UploadedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns documents newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, q models.ListQuery) ([]*models.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []interface{}{}
	if q.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, q.Status)
	}
	query += ` ORDER BY upload_timestamp DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document together with its page results, runs and issues.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_issues WHERE pipeline_run_id IN (SELECT id FROM pipeline_runs WHERE document_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_results WHERE document_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// UpdateDocumentFilename sets the display name of a document.
func (s *SQLiteStorage) UpdateDocumentFilename(ctx context.Context, id, filename string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET filename = ? WHERE id = ?`, filename, id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

// MarkProcessing moves a pending document to processing. Any other current state yields ErrStatusConflict.
func (s *SQLiteStorage) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, processing_started = ? WHERE id = ? AND status = ?`,
		models.StatusProcessing, startedAt, id, models.StatusPending,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	var current models.ProcessingStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("document %s is %s: %w", id, current, ErrStatusConflict)
}

// CompleteDocument stores the aggregate report and marks the document completed.
func (s *SQLiteStorage) CompleteDocument(ctx context.Context, id string, report models.Report, taggedPath string, completedAt time.Time) error {
	reportJSON, err := marshalNullable(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	counts := report.Counts()
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET accessibility_report_json = ?, tagged_pdf_path = ?, total_passed = ?, total_failed = ?,
		 needs_manual_check = ?, status = ?, processing_completed = ?
		 WHERE id = ?`,
		reportJSON, nullString(taggedPath), counts.TotalPassed, counts.TotalFailed, counts.NeedsManualCheck,
		models.StatusCompleted, completedAt, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

// FailDocument marks the document failed with message.
func (s *SQLiteStorage) FailDocument(ctx context.Context, id, message string, failedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ?, processing_completed = ? WHERE id = ?`,
		models.StatusFailed, message, failedAt, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

// BatchCreatePageResults stores page results in one transaction.
// An existing row for the same (document, page) is replaced.
func (s *SQLiteStorage) BatchCreatePageResults(ctx context.Context, results []*models.PageResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_results (id, document_id, page_number, accessibility_report_json,
		 total_passed, total_failed, needs_manual_check, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, page_number) DO UPDATE SET
		 accessibility_report_json = excluded.accessibility_report_json,
		 total_passed = excluded.total_passed,
		 total_failed = excluded.total_failed,
		 needs_manual_check = excluded.needs_manual_check,
		 created_at = excluded.created_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, pr := range results {
		if pr.PageNumber < 1 {
			return fmt.Errorf("invalid page number %d for document %s", pr.PageNumber, pr.DocumentID)
		}
		if pr.ID == "" {
			pr.ID = uuid.New().String()
		}
		pr.CreatedAt = now
		reportJSON, err := marshalNullable(pr.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal page %d report: %w", pr.PageNumber, err)
		}
		if _, err := stmt.ExecContext(ctx, pr.ID, pr.DocumentID, pr.PageNumber, reportJSON,
			pr.TotalPassed, pr.TotalFailed, pr.NeedsManualCheck, pr.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListPageResults returns page results ordered by page number.
func (s *SQLiteStorage) ListPageResults(ctx context.Context, docID string) ([]*models.PageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, page_number, accessibility_report_json, total_passed, total_failed,
		 needs_manual_check, created_at
		 FROM page_results WHERE document_id = ? ORDER BY page_number`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.PageResult
	for rows.Next() {
		var pr models.PageResult
		var reportJSON sql.NullString
		if err := rows.Scan(&pr.ID, &pr.DocumentID, &pr.PageNumber, &reportJSON, &pr.TotalPassed,
			&pr.TotalFailed, &pr.NeedsManualCheck, &pr.CreatedAt); err != nil {
			return nil, err
		}
		if reportJSON.Valid && reportJSON.String != "" {
			if err := json.Unmarshal([]byte(reportJSON.String), &pr.Report); err != nil {
				return nil, fmt.Errorf("failed to unmarshal page %d report: %w", pr.PageNumber, err)
			}
		}
		results = append(results, &pr)
	}
	return results, rows.Err()
}

// PageNumbers returns the page numbers that already have results, ascending.
func (s *SQLiteStorage) PageNumbers(ctx context.Context, docID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number FROM page_results WHERE document_id = ? ORDER BY page_number`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		pages = append(pages, n)
	}
	return pages, rows.Err()
}

// CreatePipelineRun inserts a completed run and its issues in one transaction.
func (s *SQLiteStorage) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	identifyJSON, err := marshalNullable(run.IdentifyPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal identify payload: %w", err)
	}
	resolveJSON, err := marshalNullable(run.ResolvePayload)
	if err != nil {
		return fmt.Errorf("failed to marshal resolve payload: %w", err)
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, document_id, pipeline_slug, attempt_resolve, status, identify_payload,
		 resolve_payload, errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.DocumentID, run.PipelineSlug, run.AttemptResolve, run.Status, identifyJSON,
		resolveJSON, string(errorsJSON), run.CreatedAt,
	); err != nil {
		return err
	}

	if len(run.Issues) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO pipeline_issues (id, pipeline_run_id, issue_code, summary, detail, pages, wcag_references,
			 extra, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, issue := range run.Issues {
			if issue.ID == "" {
				issue.ID = uuid.New().String()
			}
			issue.PipelineRunID = run.ID
			issue.CreatedAt = run.CreatedAt
			if issue.Pages == nil {
				issue.Pages = []int{}
			}
			if issue.WCAGReferences == nil {
				issue.WCAGReferences = []string{}
			}
			pagesJSON, _ := json.Marshal(issue.Pages)
			refsJSON, _ := json.Marshal(issue.WCAGReferences)
			extraJSON, err := marshalNullable(issue.Extra)
			if err != nil {
				return fmt.Errorf("failed to marshal issue extra: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, issue.ID, issue.PipelineRunID, issue.IssueCode, issue.Summary,
				issue.Detail, string(pagesJSON), string(refsJSON), extraJSON, issue.CreatedAt); err != nil {
				return err
			}
		}
	}

	completed := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE pipeline_runs SET completed_at = ? WHERE id = ?`, completed, run.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	run.CompletedAt = &completed
	return nil
}

// ListPipelineRuns returns runs for a document in creation order, each with its issues.
func (s *SQLiteStorage) ListPipelineRuns(ctx context.Context, docID string) ([]*models.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, pipeline_slug, attempt_resolve, status, identify_payload, resolve_payload,
		 errors, created_at, completed_at
		 FROM pipeline_runs WHERE document_id = ? ORDER BY created_at ASC, rowid ASC`,
		docID,
	)
	if err != nil {
		return nil, err
	}

	var runs []*models.PipelineRun
	byID := make(map[string]*models.PipelineRun)
	for rows.Next() {
		var run models.PipelineRun
		var identifyJSON, resolveJSON sql.NullString
		var errorsJSON string
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.DocumentID, &run.PipelineSlug, &run.AttemptResolve, &run.Status,
			&identifyJSON, &resolveJSON, &errorsJSON, &run.CreatedAt, &completed); err != nil {
			rows.Close()
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		if err := unmarshalNullable(identifyJSON, &run.IdentifyPayload); err != nil {
			rows.Close()
			return nil, err
		}
		if err := unmarshalNullable(resolveJSON, &run.ResolvePayload); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
		run.Issues = []*models.PipelineIssue{}
		runs = append(runs, &run)
		byID[run.ID] = &run
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(runs) == 0 {
		return runs, nil
	}

	// Issues are read after the run cursor is closed; the pool holds a single connection.
	issueRows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.pipeline_run_id, i.issue_code, i.summary, i.detail, i.pages, i.wcag_references, i.extra,
		 i.created_at
		 FROM pipeline_issues i JOIN pipeline_runs r ON r.id = i.pipeline_run_id
		 WHERE r.document_id = ? ORDER BY i.rowid`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer issueRows.Close()

	for issueRows.Next() {
		var issue models.PipelineIssue
		var pagesJSON, refsJSON string
		var extraJSON sql.NullString
		if err := issueRows.Scan(&issue.ID, &issue.PipelineRunID, &issue.IssueCode, &issue.Summary, &issue.Detail,
			&pagesJSON, &refsJSON, &extraJSON, &issue.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pagesJSON), &issue.Pages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal issue pages: %w", err)
		}
		if err := json.Unmarshal([]byte(refsJSON), &issue.WCAGReferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal issue references: %w", err)
		}
		if err := unmarshalNullable(extraJSON, &issue.Extra); err != nil {
			return nil, err
		}
		if run, ok := byID[issue.PipelineRunID]; ok {
			run.Issues = append(run.Issues, &issue)
		}
	}
	return runs, issueRows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountPageResults returns the number of stored page results for a document.
func (s *SQLiteStorage) CountPageResults(ctx context.Context, docID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_results WHERE document_id = ?`, docID).Scan(&count)
	return count, err
}

// CountPipelineRuns returns the number of pipeline runs for a document.
func (s *SQLiteStorage) CountPipelineRuns(ctx context.Context, docID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_runs WHERE document_id = ?`, docID).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func marshalNullable[T ~map[string]interface{}](v T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString, dst interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
