package mangashelf

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Collection names used in the object store.
const (
	CollectionManga         = "manga"
	CollectionChapter       = "chapter"
	CollectionComment       = "comment"
	CollectionUser          = "user"
	CollectionSettings      = "settings"
	CollectionScanGroup     = "scan_group"
	CollectionUploadSession = "upload_session"
	CollectionUploadedBlob  = "uploaded_blob"
)

const (
	// DefaultMaxPageSize bounds a single FetchPage round-trip
	DefaultMaxPageSize = 100

	// DefaultPageLimit is used when a PageRequest has no limit
	DefaultPageLimit = 20

	// paginationMargin is fetched beyond limit+offset to absorb concurrent
	// inserts and deletes between count and sort.
	paginationMargin = 5
)

// Collection stores entities of one type as JSON records.
type Collection[T any, P interface {
	*T
	Entity
}] struct {
	name        string
	store       ObjectStore
	maxPageSize int
}

// NewCollection binds a collection name to a store. maxPageSize bounds each
// FetchPage call; values below 1 use DefaultMaxPageSize.
func NewCollection[T any, P interface {
	*T
	Entity
}](store ObjectStore, name string, maxPageSize int) *Collection[T, P] {
	if maxPageSize < 1 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Collection[T, P]{name: name, store: store, maxPageSize: maxPageSize}
}

// Name returns the collection name.
func (c *Collection[T, P]) Name() string {
	return c.name
}

// Save creates the entity. A nil id is replaced by a new random id and the
// version starts at 1.
func (c *Collection[T, P]) Save(ctx context.Context, e P) error {
	meta := e.Meta()
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	meta.Version = 1
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.name, err)
	}
	err = c.store.Put(ctx, c.name, Record{Key: meta.ID.String(), Version: meta.Version, Data: data})
	return wrapStoreError(c.name, "put", meta.ID.String(), err)
}

// Update re-persists the whole entity if the stored version still equals
// the entity's version, then bumps the version.
func (c *Collection[T, P]) Update(ctx context.Context, e P) error {
	meta := e.Meta()
	prev := meta.Version
	meta.Version = prev + 1
	data, err := json.Marshal(e)
	if err != nil {
		meta.Version = prev
		return fmt.Errorf("failed to encode %s: %w", c.name, err)
	}
	err = c.store.Replace(ctx, c.name, Record{Key: meta.ID.String(), Version: meta.Version, Data: data}, prev)
	if err != nil {
		meta.Version = prev
		return wrapStoreError(c.name, "replace", meta.ID.String(), err)
	}
	return nil
}

// Find loads an entity by id.
func (c *Collection[T, P]) Find(ctx context.Context, id uuid.UUID) (P, error) {
	rec, err := c.store.Get(ctx, c.name, id.String())
	if err != nil {
		return nil, wrapStoreError(c.name, "get", id.String(), err)
	}
	return c.decode(*rec)
}

// Delete removes an entity. Deleting an absent entity is not an error.
func (c *Collection[T, P]) Delete(ctx context.Context, id uuid.UUID) error {
	return wrapStoreError(c.name, "delete", id.String(), c.store.Delete(ctx, c.name, id.String()))
}

// FetchAll follows the store cursor until it is exhausted or limit entities
// were collected. limit <= 0 means no limit.
func (c *Collection[T, P]) FetchAll(ctx context.Context, q Query, limit int) ([]P, error) {
	var (
		out    []P
		cursor string
	)
	for {
		size := c.maxPageSize
		if limit > 0 {
			size = min(size, limit-len(out))
		}
		items, next, err := c.FetchPage(ctx, q, cursor, size)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// FetchPage returns one store page of up to size entities after cursor and
// the cursor of the next page, empty when exhausted.
func (c *Collection[T, P]) FetchPage(ctx context.Context, q Query, cursor string, size int) ([]P, string, error) {
	if err := q.Validate(); err != nil {
		return nil, "", err
	}
	if size < 1 || size > c.maxPageSize {
		size = c.maxPageSize
	}
	page, err := c.store.FetchPage(ctx, c.name, q, cursor, size)
	if err != nil {
		return nil, "", wrapStoreError(c.name, "fetch", cursor, err)
	}
	out := make([]P, 0, len(page.Records))
	for _, rec := range page.Records {
		e, err := c.decode(rec)
		if err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	return out, page.Next, nil
}

// PageRequest selects a window of a sorted listing.
type PageRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default limit and rejects out of range values.
func (r PageRequest) Normalize(maxLimit int) (PageRequest, error) {
	if r.Limit == 0 {
		r.Limit = DefaultPageLimit
	}
	if r.Limit < 0 || r.Offset < 0 {
		return r, Invalid("limit and offset must not be negative")
	}
	if maxLimit > 0 && r.Limit > maxLimit {
		return r, Invalid("limit %d exceeds maximum %d", r.Limit, maxLimit)
	}
	return r, nil
}

// PageResult is one window of a listing. Total counts the records fetched
// before slicing, which is at most Limit+Offset+5.
type PageResult[P any] struct {
	Total int `json:"total"`
	Items []P `json:"items"`
}

// Paginate fetches up to limit+offset+5 matching entities, stable-sorts them
// with order and returns the [offset, offset+limit) window.
func (c *Collection[T, P]) Paginate(ctx context.Context, q Query, req PageRequest, order func(a, b P) int, descending bool) (*PageResult[P], error) {
	req, err := req.Normalize(0)
	if err != nil {
		return nil, err
	}
	items, err := c.FetchAll(ctx, q, req.Limit+req.Offset+paginationMargin)
	if err != nil {
		return nil, err
	}
	if order != nil {
		cmpFn := order
		if descending {
			cmpFn = func(a, b P) int { return order(b, a) }
		}
		slices.SortStableFunc(items, cmpFn)
	}
	start := min(req.Offset, len(items))
	end := min(req.Offset+req.Limit, len(items))
	return &PageResult[P]{Total: len(items), Items: items[start:end]}, nil
}

func (c *Collection[T, P]) decode(rec Record) (P, error) {
	e := P(new(T))
	if err := json.Unmarshal(rec.Data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", c.name, rec.Key, err)
	}
	e.Meta().Version = rec.Version
	return e, nil
}

// ByKey orders entities by a comparable key.
func ByKey[P any, K cmp.Ordered](key func(P) K) func(a, b P) int {
	return func(a, b P) int {
		return cmp.Compare(key(a), key(b))
	}
}

// ByTime orders entities by a timestamp.
func ByTime[P any](key func(P) time.Time) func(a, b P) int {
	return func(a, b P) int {
		return key(a).Compare(key(b))
	}
}
