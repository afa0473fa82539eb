package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	repomemory "github.com/tendant/mangashelf/pkg/mangashelf/repo/memory"
	repopg "github.com/tendant/mangashelf/pkg/mangashelf/repo/postgres"
	reposqlite "github.com/tendant/mangashelf/pkg/mangashelf/repo/sqlite"
	fsstorage "github.com/tendant/mangashelf/pkg/mangashelf/storage/fs"
	memorystorage "github.com/tendant/mangashelf/pkg/mangashelf/storage/memory"
	s3storage "github.com/tendant/mangashelf/pkg/mangashelf/storage/s3"
	"github.com/tendant/mangashelf/pkg/mangashelf/tasks"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

// App holds the wired components of a running server
type App struct {
	Config  *Config
	Catalog *catalog.Catalog
	Uploads *upload.Engine
	Runner  *tasks.Runner

	closers []func() error
}

// Close drains the background runner, then releases the stores
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runner != nil {
		errs = append(errs, a.Runner.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build creates the stores, the catalog and the upload engine. SQL stores
// are migrated on open.
func (c *Config) Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: c}

	store, err := c.buildObjectStore(ctx, app)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("failed to build object store: %w", err)
	}
	blobs, err := c.buildBlobStore(ctx)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	cat, err := catalog.New(store, blobs,
		catalog.WithMaxPageSize(c.MaxPageSize),
		catalog.WithMangaCacheSize(c.MangaCacheSize),
		catalog.WithLogger(logger),
	)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.Catalog = cat

	app.Runner = tasks.New(
		tasks.WithWorkers(c.CleanupWorkers),
		tasks.WithQueueSize(c.CleanupQueueSize),
		tasks.WithTimeout(c.CleanupTimeout),
		tasks.WithLogger(logger),
	)

	engine, err := upload.New(cat, app.Runner,
		upload.WithTempPath(c.TempPath),
		upload.WithJPEGQuality(c.JPEGQuality),
		upload.WithEventSink(mangashelf.NewLogEventSink(logger)),
		upload.WithLogger(logger),
	)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.Uploads = engine
	return app, nil
}

// buildObjectStore creates an ObjectStore based on the configuration
func (c *Config) buildObjectStore(ctx context.Context, app *App) (mangashelf.ObjectStore, error) {
	dbType, target, err := c.Database()
	if err != nil {
		return nil, err
	}
	switch dbType {
	case DatabaseMemory:
		return repomemory.New(), nil
	case DatabasePostgres:
		store, pool, err := repopg.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error {
			pool.Close()
			return nil
		})
		return store, nil
	case DatabaseSQLite:
		store, err := reposqlite.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// buildBlobStore creates a BlobStore based on the configuration
func (c *Config) buildBlobStore(ctx context.Context) (mangashelf.BlobStore, error) {
	storageType, target, err := c.Storage()
	if err != nil {
		return nil, err
	}
	switch storageType {
	case StorageMemory:
		return memorystorage.New(), nil
	case StorageFS:
		return fsstorage.New(fsstorage.Config{BaseDir: target})
	case StorageS3:
		return s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 target,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// Migrate applies schema migrations for SQL databases. It is a no-op for
// the memory store.
func (c *Config) Migrate(ctx context.Context) error {
	dbType, target, err := c.Database()
	if err != nil {
		return err
	}
	switch dbType {
	case DatabasePostgres:
		_, pool, err := repopg.Open(ctx, target)
		if err != nil {
			return err
		}
		pool.Close()
	case DatabaseSQLite:
		store, err := reposqlite.Open(ctx, target)
		if err != nil {
			return err
		}
		return store.Close()
	}
	return nil
}
