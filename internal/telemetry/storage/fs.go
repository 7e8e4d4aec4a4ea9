package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// EnsureRoot creates the storage root when absent and verifies it is
// writable. The worker refuses to start on a broken storage mount.
func EnsureRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root %s: %w", root, err)
	}

	probe, err := os.CreateTemp(root, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("storage root %s is not writable: %w", root, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// DirSizeKB walks the tree at path and returns its total size in kilobytes,
// rounded up. A missing directory counts as zero.
func DirSizeKB(path string) (int64, error) {
	var bytes int64

	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return (bytes + 1023) / 1024, nil
}

// RemoveTree deletes the tree at path after verifying it lies inside root.
// Guards against a malformed identifier escaping the storage tree.
func RemoveTree(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s: outside storage root %s", path, root)
	}

	return os.RemoveAll(absPath)
}

// LogFile is one boot or crash log with its embedded timestamp.
type LogFile struct {
	Name      string
	Path      string
	Size      int64
	Timestamp time.Time
}

// ListLogFiles returns the log files in dir sorted newest first by the
// timestamp embedded in their names. Files with unparseable names are
// skipped. A missing directory yields an empty list.
func ListLogFiles(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	logs := make([]LogFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ts, err := parseLogTimestamp(entry.Name())
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		logs = append(logs, LogFile{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			Size:      info.Size(),
			Timestamp: ts,
		})
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})

	return logs, nil
}

// parseLogTimestamp extracts the timestamp from names like
// boot-2021-04-12--11-23-08.bz2 or crash-2021-04-12--11-23-08.bz2.
func parseLogTimestamp(name string) (time.Time, error) {
	trimmed := strings.TrimPrefix(name, "boot-")
	trimmed = strings.TrimPrefix(trimmed, "crash-")
	trimmed = strings.TrimSuffix(trimmed, ".bz2")

	return time.Parse("2006-01-02--15-04-05", trimmed)
}
