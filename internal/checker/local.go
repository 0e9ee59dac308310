package checker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// bookmarkThreshold is the page count above which a document should carry bookmarks.
const bookmarkThreshold = 20

// LocalChecker inspects the PDF catalog and page content without any remote service.
// Whole-document checks also stage a copy of the input under taggedDir.
type LocalChecker struct {
	taggedDir string
	logger    *zap.Logger
	now       func() time.Time
}

// NewLocalChecker creates a checker that writes tagged copies to taggedDir.
func NewLocalChecker(taggedDir string, logger *zap.Logger) *LocalChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalChecker{taggedDir: taggedDir, logger: logger, now: time.Now}
}

// Check runs document rules (whole-document checks only) and page content rules.
func (c *LocalChecker) Check(ctx context.Context, documentPath string, pages *PageRange) (result *Result, err error) {
	// The PDF reader panics on malformed objects.
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("malformed PDF: %v", rec)
		}
	}()
	return c.check(ctx, documentPath, pages)
}

func (c *LocalChecker) check(ctx context.Context, documentPath string, pages *PageRange) (*Result, error) {
	if err := ensureFile(documentPath); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, r, err := pdf.Open(documentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	start, end := 1, total
	if pages != nil {
		if pages.Start < 1 || pages.End < pages.Start || pages.End > total {
			return nil, fmt.Errorf("page range %s outside document with %d pages", pages, total)
		}
		start, end = pages.Start, pages.End
	}

	sections := map[string][]Rule{}
	if pages == nil {
		sections[SectionDocument] = documentRules(r, total)
	}
	contentRules, err := pageRules(ctx, r, start, end)
	if err != nil {
		return nil, err
	}
	sections[SectionPageContent] = contentRules

	description := "The checker found problems which may prevent the document from being fully accessible."
	result := &Result{Report: BuildReport(description, sections)}

	if pages == nil && c.taggedDir != "" {
		tagged, err := c.stageTagged(documentPath)
		if err != nil {
			return nil, err
		}
		result.TaggedPDFPath = tagged
	}
	c.logger.Debug("local check finished",
		zap.String("path", documentPath), zap.String("pages", pages.String()))
	return result, nil
}

func documentRules(r *pdf.Reader, pageCount int) []Rule {
	root := r.Trailer().Key("Root")
	info := r.Trailer().Key("Info")

	rules := []Rule{
		{
			Rule:        "Tagged PDF",
			Status:      passIf(root.Key("MarkInfo").Key("Marked").Bool()),
			Description: "The document is tagged PDF",
		},
		{
			Rule:        "Tagged content",
			Status:      passIf(!root.Key("StructTreeRoot").IsNull()),
			Description: "All page content is tagged",
		},
		{
			Rule:        "Primary language",
			Status:      passIf(strings.TrimSpace(root.Key("Lang").Text()) != ""),
			Description: "Text language is specified",
		},
		{
			Rule:        "Title",
			Status:      passIf(strings.TrimSpace(info.Key("Title").Text()) != ""),
			Description: "Document title is showing in title bar",
		},
		{
			Rule:        "Logical Reading Order",
			Status:      StatusManualCheck,
			Description: "Document structure provides a logical reading order",
		},
		{
			Rule:        "Color contrast",
			Status:      StatusManualCheck,
			Description: "Document has appropriate color contrast",
		},
	}

	bookmarks := StatusPassed
	if pageCount > bookmarkThreshold && len(r.Outline().Child) == 0 {
		bookmarks = StatusFailed
	}
	rules = append(rules, Rule{
		Rule:        "Bookmarks",
		Status:      bookmarks,
		Description: "Bookmarks are present in large documents",
	})
	return rules
}

func pageRules(ctx context.Context, r *pdf.Reader, start, end int) ([]Rule, error) {
	var rules []Rule
	for n := start; n <= end; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(n)
		if page.V.IsNull() {
			return nil, fmt.Errorf("page %d not found", n)
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read text of page %d: %w", n, err)
		}
		rules = append(rules, Rule{
			Rule:        fmt.Sprintf("Image-only PDF (page %d)", n),
			Status:      passIf(strings.TrimSpace(text) != ""),
			Description: "Page is not an image-only page",
		})
	}
	return rules, nil
}

func (c *LocalChecker) stageTagged(source string) (string, error) {
	if err := os.MkdirAll(c.taggedDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create tagged output dir: %w", err)
	}
	target := filepath.Join(c.taggedDir, TaggedName(source, c.now()))
	if err := copyFile(source, target); err != nil {
		return "", fmt.Errorf("failed to stage tagged PDF: %w", err)
	}
	return target, nil
}

func passIf(ok bool) string {
	if ok {
		return StatusPassed
	}
	return StatusFailed
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
