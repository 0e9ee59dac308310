package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/ingest"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/orchestrator"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
)

// multipart overhead allowed on top of the file size limit
const formOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if n, err := s.storage.CountDocuments(r.Context()); err == nil {
		resp["documents"] = n
	}
	if s.config != nil {
		st := s.config.Storage
		if usage, err := storage.MeasureUsage(st.DatabasePath, st.UploadDir, st.OutputDir, st.PreparedDir); err == nil {
			resp["disk_usage_bytes"] = usage.Total()
			resp["disk_usage"] = usage
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config != nil && s.config.Server.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes()+formOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, ingest.ErrTooLarge.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	doc, err := s.ingest.Import(r.Context(), file, header.Filename)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, ingest.ErrUnsupportedType), errors.Is(err, ingest.ErrNotPDF), errors.Is(err, ingest.ErrInvalidPDF):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Error("upload failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := models.ListQuery{Status: models.ProcessingStatus(r.URL.Query().Get("status"))}
	var err error
	if q.Skip, err = intParam(r, "skip"); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid skip")
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if err := q.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs, err := s.storage.ListDocuments(r.Context(), q)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"skip":      q.Skip,
		"limit":     q.Limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	pages, err := s.storage.ListPageResults(ctx, doc.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runs, err := s.storage.ListPipelineRuns(ctx, doc.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, &models.DocumentDetail{
		Document:       doc,
		Pages:          nonNilPages(pages),
		PipelineRuns:   nonNilRuns(runs),
		PagesProcessed: len(pages),
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("document_id", id))
	if err := s.ingest.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("deletion failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	pages, err := s.storage.ListPageResults(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, nonNilPages(pages))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	runs, err := s.storage.ListPipelineRuns(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, nonNilRuns(runs))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	if doc.TaggedPDFPath == "" {
		s.respondError(w, http.StatusNotFound, "tagged PDF not available")
		return
	}
	f, err := os.Open(doc.TaggedPDFPath)
	if err != nil {
		s.logger.Warn("tagged PDF missing on disk", zap.String("document_id", doc.ID), zap.Error(err))
		s.respondError(w, http.StatusNotFound, "tagged PDF not available")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename)) + "_tagged.pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.processor.StartAsync(r.Context(), id)
	if err != nil {
		var invalid *orchestrator.InvalidStateError
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "document not found")
		case errors.As(err, &invalid):
			s.respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("start processing failed", zap.String("document_id", id), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusAccepted, models.StatusOf(doc))
}

func (s *Server) handleFillPages(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	s.processor.FillMissingPagesAsync(r.Context(), doc.ID)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": "filling pages"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, models.StatusOf(doc))
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pipelines)
}

// document loads the {id} document, writing 404 or 500 when it cannot.
func (s *Server) document(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return doc, true
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func nonNilPages(p []*models.PageResult) []*models.PageResult {
	if p == nil {
		return []*models.PageResult{}
	}
	return p
}

func nonNilRuns(p []*models.PipelineRun) []*models.PipelineRun {
	if p == nil {
		return []*models.PipelineRun{}
	}
	return p
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
