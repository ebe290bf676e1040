package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
)

// Options control how documents are written.
type Options struct {
	// AtomicWrites writes through a temp file, fsync and rename.
	// Off by default: the document is truncated and rewritten in place.
	AtomicWrites bool
}

// FileStore implements DocumentStore over a single JSON file.
type FileStore struct {
	path   string
	opts   Options
	logger *events.Logger
}

// NewFileStore creates a file-backed document store.
func NewFileStore(path string, opts Options, logger *events.Logger) *FileStore {
	return &FileStore{
		path:   path,
		opts:   opts,
		logger: logger.WithField("component", "file_store"),
	}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the document file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read loads the document.
func (s *FileStore) Read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDocumentNotFound
		}
		return nil, &models.StorageError{Op: "read", Path: s.path, Err: err}
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.WithError(err).Debug("Document is not a JSON object of strings")
		return nil, &models.StorageError{
			Op:   "decode",
			Path: s.path,
			Err:  fmt.Errorf("%w: %v", ErrCorruptDocument, err),
		}
	}

	return entries, nil
}

// Write replaces the document with entries.
func (s *FileStore) Write(entries map[string]string) error {
	if entries == nil {
		entries = map[string]string{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path":    s.path,
		"entries": len(entries),
		"atomic":  s.opts.AtomicWrites,
	}).Debug("Writing document")

	return WriteFile(s.path, data, 0600, s.opts.AtomicWrites)
}

// WriteFile writes data to path, creating the parent directory with 0700.
// With atomic set the data goes to a sibling temp file that is synced and
// renamed over path.
func WriteFile(path string, data []byte, perm os.FileMode, atomic bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &models.StorageError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	if !atomic {
		if err := os.WriteFile(path, data, perm); err != nil {
			return &models.StorageError{Op: "write", Path: path, Err: err}
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(path, perm); err != nil {
			return &models.StorageError{Op: "chmod", Path: path, Err: err}
		}
		return nil
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &models.StorageError{Op: "create temp", Path: path, Err: err}
	}
	tmpPath := tmpFile.Name()

	// Clean up on error
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return &models.StorageError{Op: "write", Path: tmpPath, Err: err}
	}

	// Sync to disk
	if err := tmpFile.Sync(); err != nil {
		return &models.StorageError{Op: "sync", Path: tmpPath, Err: err}
	}

	if err := tmpFile.Chmod(perm); err != nil {
		return &models.StorageError{Op: "chmod", Path: tmpPath, Err: err}
	}

	if err := tmpFile.Close(); err != nil {
		return &models.StorageError{Op: "close", Path: tmpPath, Err: err}
	}

	// Rename atomically
	if err := os.Rename(tmpPath, path); err != nil {
		return &models.StorageError{Op: "rename", Path: path, Err: err}
	}

	success = true
	return nil
}
