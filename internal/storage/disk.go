package storage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// DatabaseFiles returns the files SQLite keeps for the database at path in WAL mode.
func DatabaseFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path, path + "-wal", path + "-shm"}
}

// DiskUsageBytes returns the total size in bytes of the given paths. Each path may be a file
// or a directory, summed recursively. Empty and missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// DatabaseUsageBytes returns the on-disk size of the SQLite database at path, including its
// write-ahead log.
func DatabaseUsageBytes(path string) (int64, error) {
	return DiskUsageBytes(DatabaseFiles(path)...)
}
