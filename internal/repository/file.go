package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

// FileSource tags entries read back from the file repository.
const FileSource = "local"

// FileExt is the extension of stored element-set files.
const FileExt = ".tle"

// File stores one <id>.tle file per identity in a directory. The file's
// modification time is the entry's fetched_at.
type File struct {
	dir string
}

// NewFile creates dir if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file repository: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the storage directory.
func (f *File) Dir() string { return f.dir }

// Path returns the file backing id.
func (f *File) Path(id string) string {
	return filepath.Join(f.dir, id+FileExt)
}

// Get implements Repository.
func (f *File) Get(_ context.Context, id string) (model.CacheEntry, bool, error) {
	if err := checkID(id); err != nil {
		return model.CacheEntry{}, false, err
	}
	path := f.Path(id)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("file repository: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("file repository: %w", err)
	}
	rec, err := tle.Parse(string(data), id, FileSource)
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("file repository: %s: %w", path, err)
	}
	return model.CacheEntry{Record: rec, FetchedAt: info.ModTime().UTC(), Source: FileSource}, true, nil
}

// Save implements Repository. The file is replaced atomically and its
// modification time set to entry.FetchedAt.
func (f *File) Save(_ context.Context, entry model.CacheEntry) error {
	id := entry.NoradID()
	if err := checkID(id); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("file repository: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(entry.Record.AsText(true)); err != nil {
		tmp.Close()
		return fmt.Errorf("file repository: write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file repository: write %s: %w", id, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("file repository: %w", err)
	}
	path := f.Path(id)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("file repository: %w", err)
	}
	if !entry.FetchedAt.IsZero() {
		if err := os.Chtimes(path, entry.FetchedAt, entry.FetchedAt); err != nil {
			return fmt.Errorf("file repository: %w", err)
		}
	}
	return nil
}

// Delete implements Repository. Missing files are not an error.
func (f *File) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.Remove(f.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file repository: %w", err)
	}
	return nil
}

// List implements Repository, returning ids in lexical order.
func (f *File) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("file repository: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, FileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, FileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
