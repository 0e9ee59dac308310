package pipelines

import (
	"sync"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
)

// CacheBucket is the scratch namespace shared by plugins within one manager run.
const CacheBucket = "pipeline_cache"

// Metadata keys set by the orchestrator.
const (
	MetaTaggedPDFPath = "tagged_pdf_path"
	MetaSourcePDFPath = "source_pdf_path"
	MetaPageCount     = "page_count"
)

// PageReport is the per-page report handed to plugins.
type PageReport struct {
	PageNumber int           `json:"page_number"`
	Report     models.Report `json:"report"`
}

// Context carries the document under analysis. It is shared by every plugin of a run;
// the scratch namespace lets later plugins reuse values computed by earlier ones.
type Context struct {
	DocumentID     string
	PDFPath        string
	DocumentName   string
	DocumentReport models.Report
	PageReports    []PageReport
	OutputDir      string

	mu       sync.Mutex
	metadata map[string]interface{}
}

// SetMetadata stores a value under key at the top level of the metadata map.
func (c *Context) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	c.metadata[key] = value
}

// Metadata returns the value stored under key.
func (c *Context) Metadata(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Cached looks key up in the shared scratch bucket.
func (c *Context) Cached(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, _ := c.metadata[CacheBucket].(map[string]interface{})
	v, ok := bucket[key]
	return v, ok
}

// Cache stores value under key in the shared scratch bucket.
func (c *Context) Cache(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	bucket, ok := c.metadata[CacheBucket].(map[string]interface{})
	if !ok {
		bucket = make(map[string]interface{})
		c.metadata[CacheBucket] = bucket
	}
	bucket[key] = value
}
