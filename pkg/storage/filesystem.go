package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSystemStore keeps objects under a local directory. It backs local
// development where no S3 endpoint is available.
type FileSystemStore struct {
	rootDir string
}

// NewFileSystemStore creates the root directory if needed
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(clean)), nil
}

// PutObject writes content to <root>/<key>
func (s *FileSystemStore) PutObject(ctx context.Context, key string, content io.Reader, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// GetObject opens the object for reading
func (s *FileSystemStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// DeleteObject removes the object. Missing objects are not an error.
func (s *FileSystemStore) DeleteObject(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// ObjectExists reports whether key is present
func (s *FileSystemStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// PresignGet is not available for local files
func (s *FileSystemStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// HealthCheck verifies the root directory is still reachable
func (s *FileSystemStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("filesystem store unavailable: %w", err)
	}
	return nil
}
