// Package prepare runs an expensive, idempotent preparation step at most once per source file version.
package prepare

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/fileid"
)

// DocumentPreparer turns a source document into a prepared copy and returns its path.
type DocumentPreparer interface {
	Prepare(ctx context.Context, sourcePath string) (string, error)
}

// Discarder is implemented by preparers that can remove their prepared copies of a source.
type Discarder interface {
	Discard(sourcePath string) error
}

// PreparerFunc adapts a function to DocumentPreparer.
type PreparerFunc func(ctx context.Context, sourcePath string) (string, error)

func (f PreparerFunc) Prepare(ctx context.Context, sourcePath string) (string, error) {
	return f(ctx, sourcePath)
}

type entry struct {
	fingerprint fileid.Fingerprint
	path        string
}

// ResourcePreparer caches prepared paths per source file and collapses concurrent
// preparations of the same file version into one call.
// Failures are never cached: the caller gets the source path back.
type ResourcePreparer struct {
	preparer DocumentPreparer
	logger   *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]entry // absolute source path -> latest prepared version
}

// Option configures a ResourcePreparer.
type Option func(*ResourcePreparer)

// WithLogger sets the logger used for preparation warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *ResourcePreparer) {
		r.logger = logger
	}
}

// NewResourcePreparer wraps preparer with a single-flight cache.
func NewResourcePreparer(preparer DocumentPreparer, opts ...Option) *ResourcePreparer {
	r := &ResourcePreparer{
		preparer: preparer,
		cache:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// PrepareFile fingerprints path and prepares it. When the file cannot be
// fingerprinted the path is returned unchanged.
func (r *ResourcePreparer) PrepareFile(ctx context.Context, path string) string {
	key, err := fileid.Stat(path)
	if err != nil {
		r.logger.Warn("cannot fingerprint source, using it unprepared",
			zap.String("path", path), zap.Error(err))
		return path
	}
	return r.Prepare(ctx, key)
}

// Prepare returns the prepared path for key, running the underlying preparer at
// most once per key across concurrent callers. All callers sharing a flight
// receive the same path.
func (r *ResourcePreparer) Prepare(ctx context.Context, key fileid.SourceKey) string {
	if path, ok := r.lookup(key); ok {
		return path
	}

	// The flight outlives any single caller; a cancelled leader must not fail its waiters.
	flightCtx := context.WithoutCancel(ctx)
	v, _, shared := r.group.Do(key.String(), func() (interface{}, error) {
		if path, ok := r.lookup(key); ok {
			return path, nil
		}
		prepared, err := r.preparer.Prepare(flightCtx, key.Path)
		if err != nil {
			r.logger.Warn("preparation failed, using source document",
				zap.String("path", key.Path), zap.Error(err))
			return key.Path, nil
		}
		r.mu.Lock()
		r.cache[key.Path] = entry{fingerprint: key.Fingerprint, path: prepared}
		r.mu.Unlock()
		r.logger.Debug("prepared document",
			zap.String("path", key.Path), zap.String("prepared", prepared))
		return prepared, nil
	})
	if shared {
		r.logger.Debug("joined in-flight preparation", zap.String("path", key.Path))
	}
	return v.(string)
}

// Forget drops the cached entry for path and, when the preparer supports it,
// removes its prepared copies. Call it when the source is deleted.
func (r *ResourcePreparer) Forget(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	r.mu.Lock()
	delete(r.cache, abs)
	r.mu.Unlock()

	if d, ok := r.preparer.(Discarder); ok {
		if err := d.Discard(abs); err != nil {
			r.logger.Warn("failed to remove prepared copies", zap.String("path", abs), zap.Error(err))
		}
	}
}

func (r *ResourcePreparer) lookup(key fileid.SourceKey) (string, bool) {
	r.mu.RLock()
	e, ok := r.cache[key.Path]
	r.mu.RUnlock()
	if !ok || e.fingerprint != key.Fingerprint {
		return "", false
	}
	if _, err := os.Stat(e.path); err != nil {
		return "", false
	}
	return e.path, true
}
