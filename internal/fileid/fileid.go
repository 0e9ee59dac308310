// Package fileid identifies source files and the version of their content.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const prefix = "file:"

// PathID returns a stable identifier for the given absolute path.
// Same path always yields the same ID.
func PathID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// Fingerprint identifies one version of a file's content by modification time and size.
type Fingerprint struct {
	ModTimeNanos int64
	Size         int64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d-%d", f.ModTimeNanos, f.Size)
}

// SourceKey is a file path paired with the fingerprint of its current content.
type SourceKey struct {
	Path        string
	Fingerprint Fingerprint
}

// String is unique per (path, content version).
func (k SourceKey) String() string {
	return k.Path + "@" + k.Fingerprint.String()
}

// Stat resolves path to an absolute path and fingerprints its current content.
func Stat(path string) (SourceKey, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SourceKey{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return SourceKey{}, err
	}
	if info.IsDir() {
		return SourceKey{}, fmt.Errorf("%s is a directory", abs)
	}
	return SourceKey{
		Path:        abs,
		Fingerprint: Fingerprint{ModTimeNanos: info.ModTime().UnixNano(), Size: info.Size()},
	}, nil
}
