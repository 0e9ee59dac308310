package checker

import (
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCounter determines the number of pages of a document.
type PageCounter interface {
	CountPages(path string) (int, error)
}

// PageCounterFunc adapts a function to PageCounter.
type PageCounterFunc func(path string) (int, error)

func (f PageCounterFunc) CountPages(path string) (int, error) {
	return f(path)
}

// PDFPageCounter reads the page tree with the PDF reader and falls back to pdfcpu
// for files the reader cannot parse (for example cross-reference streams it rejects).
type PDFPageCounter struct{}

// CountPages returns a positive page count or an error.
func (PDFPageCounter) CountPages(path string) (int, error) {
	if err := ensureFile(path); err != nil {
		return 0, err
	}
	n, readErr := readerPageCount(path)
	if readErr == nil && n > 0 {
		return n, nil
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		if readErr != nil {
			return 0, fmt.Errorf("%v; %w", readErr, err)
		}
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

func readerPageCount(path string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("malformed PDF: %v", rec)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}
