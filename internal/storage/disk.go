package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vidfriends/mutualsync/internal/photos"
)

// DiskStorage keeps avatars under a local directory.
type DiskStorage struct {
	root string
}

// NewDiskStorage creates root if needed.
func NewDiskStorage(root string) (*DiskStorage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("disk storage: directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("disk storage: create %s: %w", root, err)
	}
	return &DiskStorage{root: root}, nil
}

// Save writes the photo through a temporary file so readers never observe a
// partial write.
func (d *DiskStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := d.path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("disk storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".photo-*")
	if err != nil {
		return "", fmt.Errorf("disk storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("disk storage write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("disk storage write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("disk storage commit %s: %w", name, err)
	}
	return target, nil
}

// Open implements photos.Storage.
func (d *DiskStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := d.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", photos.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("disk storage: %w", err)
	}
	return f, nil
}

func (d *DiskStorage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("disk storage: invalid key %q", name)
	}
	return filepath.Join(d.root, clean), nil
}

var _ photos.Storage = (*DiskStorage)(nil)
