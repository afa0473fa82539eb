package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// Store implements mangashelf.ObjectStore using in-memory maps
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]mangashelf.Record
}

// New creates a new in-memory object store
func New() *Store {
	return &Store{collections: make(map[string]map[string]mangashelf.Record)}
}

func copyRecord(rec mangashelf.Record) mangashelf.Record {
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data
	return rec
}

func (s *Store) Put(ctx context.Context, collection string, rec mangashelf.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]mangashelf.Record)
		s.collections[collection] = c
	}
	// Store a copy to avoid external modifications
	c[rec.Key] = copyRecord(rec)
	return nil
}

func (s *Store) Replace(ctx context.Context, collection string, rec mangashelf.Record, prevVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.collections[collection][rec.Key]
	if !ok {
		return mangashelf.ErrNotFound
	}
	if current.Version != prevVersion {
		return mangashelf.ErrVersionConflict
	}
	s.collections[collection][rec.Key] = copyRecord(rec)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (*mangashelf.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][key]
	if !ok {
		return nil, mangashelf.ErrNotFound
	}
	out := copyRecord(rec)
	return &out, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], key)
	return nil
}

func (s *Store) FetchPage(ctx context.Context, collection string, q mangashelf.Query, cursor string, limit int) (*mangashelf.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, mangashelf.Invalid("page limit must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.collections[collection]
	keys := make([]string, 0, len(c))
	for k := range c {
		if k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &mangashelf.Page{}
	for _, k := range keys {
		rec := c[k]
		if !q.Matches(rec.Data) {
			continue
		}
		if len(page.Records) == limit {
			page.Next = page.Records[limit-1].Key
			break
		}
		page.Records = append(page.Records, copyRecord(rec))
	}
	return page, nil
}

// Len returns the number of records in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
