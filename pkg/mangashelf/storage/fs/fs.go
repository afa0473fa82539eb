package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// Backend is a filesystem implementation of the mangashelf.BlobStore interface.
// Keys are slash separated paths relative to the base directory.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

func (b *Backend) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || strings.HasSuffix(key, "/") || clean != "/"+key {
		return "", mangashelf.Invalid("invalid blob key %q", key)
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(key)), nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return mangashelf.ErrNotFound
	}
	return err
}

// Put writes to a temporary file first so readers never see partial content
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader) error {
	filePath, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	rc, err := b.Get(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return b.Put(ctx, dst, rc)
}

func (b *Backend) Move(ctx context.Context, src, dst string) error {
	srcPath, err := b.pathFor(src)
	if err != nil {
		return err
	}
	dstPath, err := b.pathFor(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return notFound(err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return notFound(err)
	}
	return nil
}

func (b *Backend) DeleteMany(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		filePath, err := b.pathFor(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List walks the directory containing the prefix and returns matching keys
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	root := b.baseDir
	if dir := path.Dir(prefix + "x"); dir != "." {
		if path.Clean("/"+dir) != "/"+dir {
			return nil, mangashelf.Invalid("invalid blob prefix %q", prefix)
		}
		root = filepath.Join(b.baseDir, filepath.FromSlash(dir))
	}

	keys := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) DeleteTree(ctx context.Context, prefix string) error {
	if strings.HasSuffix(prefix, "/") && path.Clean("/"+prefix) == "/"+strings.TrimSuffix(prefix, "/") {
		return os.RemoveAll(filepath.Join(b.baseDir, filepath.FromSlash(prefix)))
	}
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	return b.DeleteMany(ctx, keys)
}
