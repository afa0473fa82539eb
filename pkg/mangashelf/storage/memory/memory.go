package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// Backend is an in-memory implementation of the mangashelf.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{objects: make(map[string][]byte)}
}

// Put stores content directly
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	return nil
}

// Get returns a reader over the stored content
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, mangashelf.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, exists := b.objects[src]
	if !exists {
		return mangashelf.ErrNotFound
	}
	// Stored slices are never mutated, sharing is safe
	b.objects[dst] = data
	return nil
}

func (b *Backend) Move(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, exists := b.objects[src]
	if !exists {
		return mangashelf.ErrNotFound
	}
	delete(b.objects, src)
	b.objects[dst] = data
	return nil
}

func (b *Backend) DeleteMany(ctx context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := []string{}
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) DeleteTree(ctx context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			delete(b.objects, k)
		}
	}
	return nil
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
