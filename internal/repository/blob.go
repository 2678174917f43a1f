package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobRepository stores attachment bytes under server-generated ids.
// Delete of a missing id is not an error.
type BlobRepository interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// DiskBlobRepository writes one file per blob into a single directory.
type DiskBlobRepository struct {
	dir string
}

func NewDiskBlobRepository(dir string) (*DiskBlobRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &DiskBlobRepository{dir: dir}, nil
}

func (r *DiskBlobRepository) Put(_ context.Context, id string, data []byte) error {
	path, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", id, err)
	}
	return nil
}

func (r *DiskBlobRepository) Get(_ context.Context, id string) ([]byte, error) {
	path, err := r.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

func (r *DiskBlobRepository) Delete(_ context.Context, id string) error {
	path, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", id, err)
	}
	return nil
}

// path rejects ids that could escape the upload directory.
func (r *DiskBlobRepository) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(r.dir, id), nil
}
