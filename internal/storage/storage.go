package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned when a filename would escape the storage directory
var ErrInvalidName = errors.New("invalid file name")

// Storage defines the interface for flat-directory file storage
type Storage interface {
	// Save writes a file and returns its absolute path
	Save(filename string, data []byte) (string, error)

	// Get reads a file by name
	Get(filename string) ([]byte, error)

	// Exists reports whether a stored path is still present on disk
	Exists(path string) bool

	// Delete removes a file by name
	Delete(filename string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the directory if needed and returns a LocalStorage rooted there
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory: %w", err)
	}

	return &LocalStorage{basePath: abs}, nil
}

// BasePath returns the absolute directory files are stored in
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

func (l *LocalStorage) resolve(filename string) (string, error) {
	// Only plain names are accepted; callers serve these over HTTP.
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return filepath.Join(l.basePath, filename), nil
}

// Save writes data under filename, replacing any existing file
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get reads a stored file
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Exists accepts either an absolute path returned by Save or a bare filename
func (l *LocalStorage) Exists(path string) bool {
	if path == "" {
		return false
	}
	if !filepath.IsAbs(path) {
		resolved, err := l.resolve(path)
		if err != nil {
			return false
		}
		path = resolved
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (l *LocalStorage) Delete(filename string) error {
	path, err := l.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
