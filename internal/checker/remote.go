package checker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// HTTPChecker submits documents to a remote accessibility service.
//
// Request: POST <base>/check with a multipart "file" field and optional
// page_start/page_end query parameters. Response: {"report": {...}, "tagged_pdf": "<base64>"}.
type HTTPChecker struct {
	baseURL   string
	token     string
	taggedDir string
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

// HTTPOption configures an HTTPChecker.
type HTTPOption func(*HTTPChecker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPChecker) {
		h.client = c
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTPChecker) {
		h.token = token
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(h *HTTPChecker) {
		h.logger = logger
	}
}

// NewHTTPChecker creates a remote checker. Tagged PDFs returned for whole-document
// checks are written to taggedDir.
func NewHTTPChecker(baseURL, taggedDir string, timeout time.Duration, opts ...HTTPOption) (*HTTPChecker, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid checker url: %w", err)
	}
	h := &HTTPChecker{
		baseURL:   strings.TrimRight(baseURL, "/"),
		taggedDir: taggedDir,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h, nil
}

type checkResponse struct {
	Report    models.Report `json:"report"`
	TaggedPDF string        `json:"tagged_pdf,omitempty"`
}

// Check uploads the document and decodes the service's report.
func (h *HTTPChecker) Check(ctx context.Context, documentPath string, pages *PageRange) (*Result, error) {
	if err := ensureFile(documentPath); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody(documentPath)
	if err != nil {
		return nil, err
	}

	endpoint := h.baseURL + "/check"
	if pages != nil {
		q := url.Values{}
		q.Set("page_start", strconv.Itoa(pages.Start))
		q.Set("page_end", strconv.Itoa(pages.End))
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("accessibility service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("accessibility service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode accessibility report: %w", err)
	}
	if decoded.Report == nil {
		return nil, fmt.Errorf("accessibility service returned no report")
	}
	h.logger.Debug("remote check finished",
		zap.String("path", documentPath),
		zap.String("pages", pages.String()),
		zap.Duration("elapsed", time.Since(start)))

	result := &Result{Report: decoded.Report}
	if pages == nil && decoded.TaggedPDF != "" && h.taggedDir != "" {
		tagged, err := h.saveTagged(documentPath, decoded.TaggedPDF)
		if err != nil {
			return nil, err
		}
		result.TaggedPDFPath = tagged
	}
	return result, nil
}

func (h *HTTPChecker) saveTagged(source, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode tagged PDF: %w", err)
	}
	if err := os.MkdirAll(h.taggedDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create tagged output dir: %w", err)
	}
	target := filepath.Join(h.taggedDir, TaggedName(source, h.now()))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write tagged PDF: %w", err)
	}
	return target, nil
}

func multipartBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
