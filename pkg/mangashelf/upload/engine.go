// Package upload implements the upload session workflow: a session stages
// page images as blobs, lets the caller reorder, slice and delete them,
// and finally commits them as the pages of a chapter.
//
// Bytes are always written before the records that reference them, and
// every failure path removes what the failing call created. Cleanup that
// is not needed to answer the caller runs on a tasks.Runner.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/acl"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	"github.com/tendant/mangashelf/pkg/mangashelf/tasks"
)

// Engine runs upload sessions
type Engine struct {
	catalog     *catalog.Catalog
	blobs       mangashelf.BlobStore
	runner      *tasks.Runner
	events      mangashelf.EventSink
	logger      *slog.Logger
	tempPath    string
	jpegQuality int
	copyLimit   int
}

// Option configures an Engine
type Option func(*Engine)

// WithTempPath sets the root of the session workspaces
func WithTempPath(path string) Option {
	return func(e *Engine) {
		e.tempPath = path
	}
}

// WithEventSink sets the lifecycle event sink
func WithEventSink(sink mangashelf.EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithJPEGQuality sets the quality of normalized pages
func WithJPEGQuality(q int) Option {
	return func(e *Engine) {
		if q > 0 && q <= 100 {
			e.jpegQuality = q
		}
	}
}

// WithCopyConcurrency bounds concurrent page copies when seeding sessions
func WithCopyConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.copyLimit = n
		}
	}
}

// New creates an upload engine. Page bytes go to the catalog's blob store.
func New(cat *catalog.Catalog, runner *tasks.Runner, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if runner == nil {
		return nil, errors.New("task runner is required")
	}
	e := &Engine{
		catalog:     cat,
		blobs:       cat.Pages(),
		runner:      runner,
		events:      mangashelf.NewNoopEventSink(),
		logger:      slog.Default(),
		tempPath:    os.TempDir(),
		jpegQuality: DefaultJPEGQuality,
		copyLimit:   8,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tempPath == "" {
		return nil, errors.New("temp path is required")
	}
	if err := os.MkdirAll(e.tempPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp path: %w", err)
	}
	return e, nil
}

// SessionView is a session with its blobs in position order
type SessionView struct {
	*mangashelf.UploadSession
	Blobs []*mangashelf.UploadedBlob `json:"blobs"`
}

// CommitResult is the outcome of a commit. Created is false when an
// existing chapter was replaced.
type CommitResult struct {
	Chapter *mangashelf.Chapter
	Created bool
}

func blobError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &mangashelf.StorageError{Backend: "blob", Op: op, Key: key, Err: err}
}

// loadSession finds a session and checks action for the caller
func (e *Engine) loadSession(ctx context.Context, caller mangashelf.Caller, id uuid.UUID, action string) (*mangashelf.UploadSession, error) {
	s, err := e.catalog.Sessions.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(action, s); err != nil {
		return nil, err
	}
	return s, nil
}

// sessionBlobs returns the blobs of a session ordered by position
func (e *Engine) sessionBlobs(ctx context.Context, sessionID uuid.UUID) ([]*mangashelf.UploadedBlob, error) {
	blobs, err := e.catalog.Blobs.FetchAll(ctx, mangashelf.Where("session_id", sessionID.String()), 0)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(blobs, func(a, b *mangashelf.UploadedBlob) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return naturalCompare(a.Name, b.Name)
	})
	return blobs, nil
}

func nextPosition(blobs []*mangashelf.UploadedBlob) int {
	next := 1
	for _, b := range blobs {
		if b.Position >= next {
			next = b.Position + 1
		}
	}
	return next
}

// requireMembers checks a non-empty id list without duplicates whose ids
// all belong to the session
func requireMembers(ids []uuid.UUID, blobs []*mangashelf.UploadedBlob) error {
	if len(ids) == 0 {
		return mangashelf.Invalid("at least one page needs to be provided")
	}
	members := make(map[uuid.UUID]struct{}, len(blobs))
	for _, b := range blobs {
		members[b.ID] = struct{}{}
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return mangashelf.Invalid("page %s is listed more than once", id)
		}
		seen[id] = struct{}{}
		if _, ok := members[id]; !ok {
			return mangashelf.Invalid("some pages don't belong to this session")
		}
	}
	return nil
}

func blobKeys(ids []uuid.UUID) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, mangashelf.BlobKey(id))
	}
	return keys
}

func blobIDs(blobs []*mangashelf.UploadedBlob) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(blobs))
	for _, b := range blobs {
		ids = append(ids, b.ID)
	}
	return ids
}

// deleteRecords removes blob records, continuing past failures
func (e *Engine) deleteRecords(ctx context.Context, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		if err := e.catalog.Blobs.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discard removes blobs created by a failing call, records first so no
// record outlives its bytes
func (e *Engine) discard(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.deleteRecords(ctx, ids); err != nil {
		e.logger.ErrorContext(ctx, "failed to roll back blob records", "count", len(ids), "err", err)
	}
	if err := e.blobs.DeleteMany(ctx, blobKeys(ids)); err != nil {
		e.logger.ErrorContext(ctx, "failed to roll back blob bytes", "count", len(ids), "err", err)
	}
}

// scheduleBlobDeletion removes blob bytes in the background
func (e *Engine) scheduleBlobDeletion(name string, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	keys := blobKeys(ids)
	e.runner.Submit(name, func(ctx context.Context) error {
		return blobError("delete_many", keys[0], e.blobs.DeleteMany(ctx, keys))
	})
}

// Get returns a session with its blobs
func (e *Engine) Get(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID) (*SessionView, error) {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionView)
	if err != nil {
		return nil, err
	}
	blobs, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return &SessionView{UploadSession: s, Blobs: blobs}, nil
}

// Permissions reports which actions the caller holds on a session
func (e *Engine) Permissions(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID) (map[string]bool, error) {
	s, err := e.catalog.Sessions.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return acl.ListPermissions(caller.Principals, s), nil
}
