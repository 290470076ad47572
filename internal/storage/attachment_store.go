// Package storage persists extracted attachment blobs on the local
// filesystem, keyed by the relative path recorded on the attachment row.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrBlobNotFound  = errors.New("attachment blob not found")
)

// AttachmentStore defines the interface for attachment blob storage
type AttachmentStore interface {
	Save(filename string, content io.Reader) (string, error)
	Get(filePath string) (io.ReadCloser, error)
	Delete(filePath string) error
}

// localStore implements AttachmentStore on the local filesystem
type localStore struct {
	basePath string
}

// NewLocalStore creates an AttachmentStore rooted at basePath
func NewLocalStore(basePath string) (AttachmentStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &localStore{basePath: basePath}, nil
}

// resolve ensures filePath stays inside basePath
func (s *localStore) resolve(filePath string) (string, error) {
	clean := filepath.Clean(filePath)
	if filepath.IsAbs(clean) || strings.Contains(clean, "..") {
		return "", ErrPathTraversal
	}

	fullPath, err := filepath.Abs(filepath.Join(s.basePath, clean))
	if err != nil {
		return "", fmt.Errorf("invalid attachment path: %w", err)
	}
	base, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	if fullPath != base && !strings.HasPrefix(fullPath, base+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return fullPath, nil
}

// Save stores one attachment blob and returns its relative path. The
// stored name is synthetic so colliding attachment filenames from
// different messages never overwrite each other.
func (s *localStore) Save(filename string, content io.Reader) (string, error) {
	uniqueName := uuid.New().String() + filepath.Ext(filename)
	subDir := uniqueName[:2]

	if err := os.MkdirAll(filepath.Join(s.basePath, subDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create attachment subdirectory: %w", err)
	}

	relPath := filepath.Join(subDir, uniqueName)
	file, err := os.Create(filepath.Join(s.basePath, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		os.Remove(filepath.Join(s.basePath, relPath))
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return relPath, nil
}

// Get opens a stored attachment blob
func (s *localStore) Get(filePath string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(filePath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return file, nil
}

// Delete removes a stored attachment blob
func (s *localStore) Delete(filePath string) error {
	fullPath, err := s.resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}
