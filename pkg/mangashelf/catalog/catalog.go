// Package catalog implements entity operations on top of the typed
// collections: permission checks, cascading deletes and the listings.
package catalog

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// DefaultMangaCacheSize bounds the manga lookup cache used by listings
const DefaultMangaCacheSize = 256

type (
	MangaCollection        = mangashelf.Collection[mangashelf.Manga, *mangashelf.Manga]
	ChapterCollection      = mangashelf.Collection[mangashelf.Chapter, *mangashelf.Chapter]
	CommentCollection      = mangashelf.Collection[mangashelf.Comment, *mangashelf.Comment]
	UserCollection         = mangashelf.Collection[mangashelf.User, *mangashelf.User]
	SettingsCollection     = mangashelf.Collection[mangashelf.Settings, *mangashelf.Settings]
	ScanGroupCollection    = mangashelf.Collection[mangashelf.ScanGroup, *mangashelf.ScanGroup]
	SessionCollection      = mangashelf.Collection[mangashelf.UploadSession, *mangashelf.UploadSession]
	UploadedBlobCollection = mangashelf.Collection[mangashelf.UploadedBlob, *mangashelf.UploadedBlob]
)

// Catalog owns every entity collection and the page blob store. Entities
// reference each other by id; cascades are resolved here.
type Catalog struct {
	Manga      *MangaCollection
	Chapters   *ChapterCollection
	Comments   *CommentCollection
	Users      *UserCollection
	Settings   *SettingsCollection
	ScanGroups *ScanGroupCollection
	Sessions   *SessionCollection
	Blobs      *UploadedBlobCollection

	pages       mangashelf.BlobStore
	mangaCache  *lru.Cache[uuid.UUID, mangashelf.Manga]
	maxPageSize int
	cacheSize   int
	logger      *slog.Logger
}

// Option configures a Catalog
type Option func(*Catalog)

// WithMaxPageSize bounds every store round-trip and listing limit
func WithMaxPageSize(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.maxPageSize = n
		}
	}
}

// WithMangaCacheSize sets the number of manga kept by the lookup cache
func WithMangaCacheSize(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a catalog over an object store and the page blob store
func New(store mangashelf.ObjectStore, pages mangashelf.BlobStore, opts ...Option) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if pages == nil {
		return nil, fmt.Errorf("blob store is required")
	}

	c := &Catalog{
		pages:       pages,
		maxPageSize: mangashelf.DefaultMaxPageSize,
		cacheSize:   DefaultMangaCacheSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.New[uuid.UUID, mangashelf.Manga](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create manga cache: %w", err)
	}
	c.mangaCache = cache

	n := c.maxPageSize
	c.Manga = mangashelf.NewCollection[mangashelf.Manga](store, mangashelf.CollectionManga, n)
	c.Chapters = mangashelf.NewCollection[mangashelf.Chapter](store, mangashelf.CollectionChapter, n)
	c.Comments = mangashelf.NewCollection[mangashelf.Comment](store, mangashelf.CollectionComment, n)
	c.Users = mangashelf.NewCollection[mangashelf.User](store, mangashelf.CollectionUser, n)
	c.Settings = mangashelf.NewCollection[mangashelf.Settings](store, mangashelf.CollectionSettings, n)
	c.ScanGroups = mangashelf.NewCollection[mangashelf.ScanGroup](store, mangashelf.CollectionScanGroup, n)
	c.Sessions = mangashelf.NewCollection[mangashelf.UploadSession](store, mangashelf.CollectionUploadSession, n)
	c.Blobs = mangashelf.NewCollection[mangashelf.UploadedBlob](store, mangashelf.CollectionUploadedBlob, n)
	return c, nil
}

// Pages returns the blob store holding chapter pages
func (c *Catalog) Pages() mangashelf.BlobStore {
	return c.pages
}

// MaxPageSize is the largest accepted listing limit
func (c *Catalog) MaxPageSize() int {
	return c.maxPageSize
}

func (c *Catalog) pageRequest(req mangashelf.PageRequest) (mangashelf.PageRequest, error) {
	return req.Normalize(c.maxPageSize)
}

func blobError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &mangashelf.StorageError{Backend: "blob", Op: op, Key: key, Err: err}
}
