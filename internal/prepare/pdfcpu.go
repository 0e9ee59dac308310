package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/fileid"
)

// PdfcpuPreparer writes an optimized, relaxed-validated copy of a PDF into a cache directory.
// Output names are derived from the source path and fingerprint, so a changed source gets a new file.
type PdfcpuPreparer struct {
	dir string
}

// NewPdfcpuPreparer creates dir if needed.
func NewPdfcpuPreparer(dir string) (*PdfcpuPreparer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prepared dir: %w", err)
	}
	return &PdfcpuPreparer{dir: dir}, nil
}

// Prepare optimizes sourcePath. The result is written to a temporary file and renamed into place.
func (p *PdfcpuPreparer) Prepare(ctx context.Context, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := fileid.Stat(sourcePath)
	if err != nil {
		return "", err
	}
	target := filepath.Join(p.dir, PreparedName(key))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	tmp := target + ".tmp"
	if err := api.OptimizeFile(key.Path, tmp, relaxedConfig()); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to optimize %s: %w", filepath.Base(key.Path), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move prepared file: %w", err)
	}
	return target, nil
}

// Discard removes every prepared version of sourcePath. The source itself need not exist.
func (p *PdfcpuPreparer) Discard(sourcePath string) error {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := preparedPrefix(abs)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PreparedName is the cache file name for one version of a source file.
func PreparedName(key fileid.SourceKey) string {
	return fmt.Sprintf("%s%s.pdf", preparedPrefix(key.Path), key.Fingerprint)
}

// preparedPrefix is shared by all versions of one source path: <stem>_<id12>_.
func preparedPrefix(path string) string {
	id := strings.TrimPrefix(fileid.PathID(path), "file:")
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return fmt.Sprintf("%s_%s_", stem, id[:12])
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}
