// Package testpdf builds minimal PDF files for tests: text pages, optional
// document metadata and an optional structure tree.
package testpdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Element is a structure element with its role (H1, Title, P, ...) and text.
type Element struct {
	Role string
	Text string
}

// Options describes the document to build.
type Options struct {
	// Pages holds the text of each page; lines are separated by "\n".
	Pages    []string
	Title    string
	Lang     string
	Tagged   bool
	Elements []Element
}

type builder struct {
	objs []string
}

func (b *builder) reserve() int {
	b.objs = append(b.objs, "")
	return len(b.objs)
}

func (b *builder) set(n int, body string) {
	b.objs[n-1] = body
}

func (b *builder) add(body string) int {
	n := b.reserve()
	b.set(n, body)
	return n
}

// Build returns the bytes of a PDF described by opts. A document with no pages gets one empty page.
func Build(opts Options) []byte {
	pages := opts.Pages
	if len(pages) == 0 {
		pages = []string{""}
	}

	b := &builder{}
	catalog := b.reserve()
	pagesObj := b.reserve()
	font := b.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	kids := make([]string, 0, len(pages))
	for _, text := range pages {
		stream := contentStream(text)
		content := b.add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
		page := b.add(fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pagesObj, font, content))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	b.set(pagesObj, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))

	var extra strings.Builder
	if opts.Lang != "" {
		fmt.Fprintf(&extra, " /Lang %s", literal(opts.Lang))
	}
	if opts.Tagged || len(opts.Elements) > 0 {
		if opts.Tagged {
			extra.WriteString(" /MarkInfo << /Marked true >>")
		}
		root := b.reserve()
		elems := make([]string, 0, len(opts.Elements))
		for _, el := range opts.Elements {
			n := b.add(fmt.Sprintf("<< /Type /StructElem /S /%s /P %d 0 R /ActualText %s >>", el.Role, root, literal(el.Text)))
			elems = append(elems, fmt.Sprintf("%d 0 R", n))
		}
		b.set(root, fmt.Sprintf("<< /Type /StructTreeRoot /K [%s] >>", strings.Join(elems, " ")))
		fmt.Fprintf(&extra, " /StructTreeRoot %d 0 R", root)
	}
	b.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R%s >>", pagesObj, extra.String()))

	info := 0
	if opts.Title != "" {
		info = b.add(fmt.Sprintf("<< /Title %s /Producer (testpdf) >>", literal(opts.Title)))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(b.objs))
	for i, body := range b.objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(b.objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R", len(b.objs)+1, catalog)
	if info != 0 {
		fmt.Fprintf(&buf, " /Info %d 0 R", info)
	}
	fmt.Fprintf(&buf, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

// Write builds a PDF into dir/name and returns its path.
func Write(t testing.TB, dir, name string, opts Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Build(opts), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Pages returns n pages with the text "Page i".
func Pages(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Page %d", i+1)
	}
	return out
}

func contentStream(text string) string {
	if text == "" {
		return "BT ET"
	}
	lines := strings.Split(text, "\n")
	shown := make([]string, len(lines))
	for i, line := range lines {
		shown[i] = literal(line) + " Tj"
	}
	return "BT /F1 18 Tf 22 TL 72 720 Td " + strings.Join(shown, " T* ") + " ET"
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(s) + ")"
}
