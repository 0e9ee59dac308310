package pipelines

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// ErrNoHeading is returned when a document exposes no usable top-level heading.
var ErrNoHeading = errors.New("document has no H1 heading")

const (
	maxStructDepth     = 64
	keywordCandidates  = 10
	plainTextPages     = 3
	minPlainLineLength = 5
	maxPlainLineLength = 100
)

var (
	headingKeywords = []string{"FORM", "CERTIFICATE", "APPLICATION", "SALES"}
	numberedItem    = regexp.MustCompile(`^\d+\.\s`)
)

// structElement is a tagged structure element with its standard role and text.
type structElement struct {
	role string
	text string
}

// HeadingExtractor returns the top-level heading of a PDF or ErrNoHeading.
type HeadingExtractor func(path string) (string, error)

// ExtractHeading finds the document heading. It prefers an H1 structure element,
// then a Title element, then a keyword or all-caps element among the first ten,
// then the first plausible line of plain text on the first three pages.
func ExtractHeading(path string) (heading string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			heading, err = "", fmt.Errorf("malformed PDF: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	if h := headingFromStructure(structElements(r)); h != "" {
		return h, nil
	}
	if h := headingFromPlainText(r); h != "" {
		return h, nil
	}
	return "", ErrNoHeading
}

func headingFromStructure(elems []structElement) string {
	for _, role := range []string{"H1", "Title"} {
		for _, el := range elems {
			if el.role == role {
				return el.text
			}
		}
	}
	limit := len(elems)
	if limit > keywordCandidates {
		limit = keywordCandidates
	}
	for _, el := range elems[:limit] {
		upper := strings.ToUpper(el.text)
		for _, kw := range headingKeywords {
			if strings.Contains(upper, kw) {
				return el.text
			}
		}
		if len(el.text) < 50 && !strings.HasSuffix(el.text, ".") && isUpper(el.text) {
			return el.text
		}
	}
	return ""
}

func headingFromPlainText(r *pdf.Reader) string {
	pages := r.NumPage()
	if pages > plainTextPages {
		pages = plainTextPages
	}
	for n := 1; n <= pages; n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if len(line) < minPlainLineLength || len(line) > maxPlainLineLength {
				continue
			}
			if numberedItem.MatchString(line) {
				continue
			}
			return line
		}
	}
	return ""
}

// structElements walks the structure tree in document order and returns the
// elements that carry text, with custom roles mapped through the RoleMap.
func structElements(r *pdf.Reader) []structElement {
	root := r.Trailer().Key("Root").Key("StructTreeRoot")
	if root.IsNull() {
		return nil
	}
	roleMap := root.Key("RoleMap")
	var out []structElement
	var walk func(v pdf.Value, depth int)
	walk = func(v pdf.Value, depth int) {
		if depth > maxStructDepth {
			return
		}
		switch v.Kind() {
		case pdf.Array:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i), depth+1)
			}
		case pdf.Dict:
			if role := v.Key("S").Name(); role != "" {
				if text := elementText(v); text != "" {
					out = append(out, structElement{role: standardRole(roleMap, role), text: text})
				}
			}
			walk(v.Key("K"), depth+1)
		}
	}
	walk(root.Key("K"), 0)
	return out
}

func standardRole(roleMap pdf.Value, role string) string {
	for i := 0; i < 8; i++ {
		mapped := roleMap.Key(role).Name()
		if mapped == "" || mapped == role {
			break
		}
		role = mapped
	}
	return role
}

func elementText(v pdf.Value) string {
	for _, key := range []string{"ActualText", "Alt", "T"} {
		if text := strings.TrimSpace(v.Key(key).Text()); text != "" {
			return text
		}
	}
	return ""
}

func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}
