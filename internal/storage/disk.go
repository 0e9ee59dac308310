package storage

import (
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the service's data directories.
type Usage struct {
	DatabaseBytes int64 `json:"database_bytes"`
	UploadBytes   int64 `json:"upload_bytes"`
	OutputBytes   int64 `json:"output_bytes"`
	PreparedBytes int64 `json:"prepared_bytes"`
}

// Total returns the sum of all parts.
func (u Usage) Total() int64 {
	return u.DatabaseBytes + u.UploadBytes + u.OutputBytes + u.PreparedBytes
}

// MeasureUsage sums the database file (with its WAL side files) and the upload, output and prepared directories.
func MeasureUsage(dbPath, uploadDir, outputDir, preparedDir string) (Usage, error) {
	var u Usage
	var err error
	if u.DatabaseBytes, err = DiskUsageBytes(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
		return u, err
	}
	if u.UploadBytes, err = DiskUsageBytes(uploadDir); err != nil {
		return u, err
	}
	if u.OutputBytes, err = DiskUsageBytes(outputDir); err != nil {
		return u, err
	}
	if u.PreparedBytes, err = DiskUsageBytes(preparedDir); err != nil {
		return u, err
	}
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
