package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// FilePattern matches the names of dump files written by WriteFile.
var FilePattern = regexp.MustCompile(`^nutribin_backup_\d{8}_\d{6}\.sql$`)

// ErrInvalidName is returned for a file name that is not a backup file.
var ErrInvalidName = errors.New("invalid backup file name")

// ErrExists is returned when a dump for the same second is already on disk.
var ErrExists = errors.New("backup file already exists")

// FileInfo describes a dump file on disk.
type FileInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileName returns the dump file name for t.
func FileName(t time.Time) string {
	return "nutribin_backup_" + t.UTC().Format("20060102_150405") + ".sql"
}

// WriteFile writes a full dump into dir and returns the file path. A partial
// file is removed on failure.
func (g *Generator) WriteFile(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, FileName(g.now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrExists, filepath.Base(path))
	}
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", err
	}
	for chunk, err := range g.Chunks(ctx) {
		if err != nil {
			return fail(err)
		}
		if _, err := f.WriteString(chunk); err != nil {
			return fail(fmt.Errorf("write backup file: %w", err))
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close backup file: %w", err)
	}
	g.log.Info("backup written", zap.String("path", path))
	return path, nil
}

// ListFiles returns the backup files in dir, newest first. A missing dir
// yields an empty list.
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !FilePattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), SizeBytes: info.Size(), CreatedAt: info.ModTime().UTC()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	return files, nil
}

// CleanOldBackups deletes all but the newest keep backup files in dir and
// returns the names it removed.
func CleanOldBackups(dir string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) <= keep {
		return []string{}, nil
	}

	removed := make([]string, 0, len(files)-keep)
	for _, f := range files[keep:] {
		if err := os.Remove(filepath.Join(dir, f.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", f.Name, err)
		}
		removed = append(removed, f.Name)
	}
	return removed, nil
}

// OpenFile opens a backup file in dir by name. Names that do not match
// FilePattern are rejected before touching the filesystem.
func OpenFile(dir, name string) (*os.File, error) {
	if !FilePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	return os.Open(filepath.Join(dir, name))
}
