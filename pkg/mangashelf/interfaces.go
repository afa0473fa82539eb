package mangashelf

import (
	"context"
	"io"
	"regexp"
)

// Record is a stored JSON document.
type Record struct {
	Key     string
	Version int
	Data    []byte
}

// Operator compares a document field with a condition value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNotEq    Operator = "ne"
	OpContains Operator = "contains"
)

// Condition matches a top-level document field. Field values are compared
// in their string form: strings as-is, numbers and booleans as JSON text.
type Condition struct {
	Field string
	Op    Operator
	Value string
}

// Query is a conjunction of conditions. An empty query matches everything.
type Query []Condition

// Where starts a query with an equality condition.
func Where(field, value string) Query {
	return Query{{Field: field, Op: OpEq, Value: value}}
}

// And appends an equality condition.
func (q Query) And(field, value string) Query {
	return append(q, Condition{Field: field, Op: OpEq, Value: value})
}

// Contains appends a substring condition.
func (q Query) Contains(field, value string) Query {
	return append(q, Condition{Field: field, Op: OpContains, Value: value})
}

// Not appends an inequality condition.
func (q Query) Not(field, value string) Query {
	return append(q, Condition{Field: field, Op: OpNotEq, Value: value})
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate rejects unknown operators and field names that are not plain
// snake_case identifiers.
func (q Query) Validate() error {
	for _, c := range q {
		if !fieldPattern.MatchString(c.Field) {
			return Invalid("invalid query field %q", c.Field)
		}
		switch c.Op {
		case OpEq, OpNotEq, OpContains:
		default:
			return Invalid("invalid query operator %q", c.Op)
		}
	}
	return nil
}

// Page is one round-trip of a paged scan. Next is empty when the scan is
// exhausted.
type Page struct {
	Records []Record
	Next    string
}

// ObjectStore defines the interface for document persistence
type ObjectStore interface {
	// Put stores a record unconditionally
	Put(ctx context.Context, collection string, rec Record) error

	// Replace stores a record only if the stored version equals prevVersion.
	// It returns ErrNotFound if the record is absent and ErrVersionConflict
	// if the versions differ.
	Replace(ctx context.Context, collection string, rec Record, prevVersion int) error

	// Get returns the record or ErrNotFound
	Get(ctx context.Context, collection, key string) (*Record, error)

	// Delete removes the record; deleting an absent record is not an error
	Delete(ctx context.Context, collection, key string) error

	// FetchPage returns up to limit records matching q with keys after cursor,
	// in key order
	FetchPage(ctx context.Context, collection string, q Query, cursor string, limit int) (*Page, error)
}

// BlobStore defines the interface for page image storage
type BlobStore interface {
	// Put stores the content read from r under key
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the content stored under key or returns ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Copy duplicates src into dst
	Copy(ctx context.Context, src, dst string) error

	// Move relocates src to dst
	Move(ctx context.Context, src, dst string) error

	// DeleteMany removes the given keys; absent keys are ignored
	DeleteMany(ctx context.Context, keys []string) error

	// List returns every key starting with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// DeleteTree removes every key starting with prefix
	DeleteTree(ctx context.Context, prefix string) error
}
