package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements the Store interface using the local filesystem
type Local struct {
	basePath string
}

var _ Store = (*Local)(nil)

// NewLocal creates a new Local store rooted at basePath
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &Local{
		basePath: basePath,
	}, nil
}

func (l *Local) path(ref string) (string, error) {
	key, err := cleanKey(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

// Save writes the image below the base path; the reference is the key itself
func (l *Local) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if !Allowed(contentType) {
		return "", fmt.Errorf("%w: %s", ErrContentTypeNotAllowed, contentType)
	}
	fullPath, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get reads an image from local storage
func (l *Local) Get(ctx context.Context, ref string) ([]byte, error) {
	fullPath, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an image from local storage
func (l *Local) Delete(ctx context.Context, ref string) error {
	fullPath, err := l.path(ref)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
