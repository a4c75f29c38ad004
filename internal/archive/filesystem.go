package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"rolectl/internal/settings"
)

// FileSystemArchive stores each record as a file under root/records, the
// key's slashes becoming directories:
//
//	<root>/
//	  records/
//	    <server_id>/
//	      <timestamp>-<record_id>.json[.age]
type FileSystemArchive struct {
	name       string
	root       string
	recordsDir string
}

// NewFileSystemArchive creates an archive rooted at root.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	recordsDir := filepath.Join(root, "records")
	if err := os.MkdirAll(recordsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	return &FileSystemArchive{
		name:       name,
		root:       root,
		recordsDir: recordsDir,
	}, nil
}

func (a *FileSystemArchive) Name() string { return a.name }

// Put writes the record atomically (temp file + rename).
func (a *FileSystemArchive) Put(key string, r io.Reader, size int64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	destPath := filepath.Join(a.recordsDir, filepath.FromSlash(key))
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func (a *FileSystemArchive) Get(key string, w io.Writer) error {
	if err := checkKey(key); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(a.recordsDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		return fmt.Errorf("failed to open record: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	return nil
}

func (a *FileSystemArchive) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(a.recordsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(a.recordsDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup verifies that the archive directories are accessible.
func (a *FileSystemArchive) ValidateSetup() error {
	for _, dir := range []string{a.root, a.recordsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("archive directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("archive path is not a directory: %s", dir)
		}
	}
	return nil
}

var _ settings.Archive = (*FileSystemArchive)(nil)
