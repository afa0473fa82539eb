// Package scan walks stored chapters in batches and hands each one to a
// processor. It backs maintenance jobs such as page integrity checks.
package scan

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
)

// DefaultBatchSize is the number of chapters read per store round-trip
const DefaultBatchSize = 100

// ChapterProcessor handles one chapter. An error marks the chapter as
// failed; the scan continues with the next one.
type ChapterProcessor interface {
	Process(ctx context.Context, ch *mangashelf.Chapter) error
}

// ProcessorFunc adapts a function to ChapterProcessor
type ProcessorFunc func(ctx context.Context, ch *mangashelf.Chapter) error

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, ch *mangashelf.Chapter) error {
	return f(ctx, ch)
}

// Scanner reads chapters from the catalog
type Scanner struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// New creates a scanner. A nil logger uses slog.Default.
func New(cat *catalog.Catalog, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{catalog: cat, logger: logger}
}

// Options configures a scan
type Options struct {
	// MangaID restricts the scan to the chapters of one manga
	MangaID *uuid.UUID

	// Processor is required unless DryRun is set
	Processor ChapterProcessor

	// BatchSize defaults to DefaultBatchSize
	BatchSize int

	// DryRun counts matching chapters without processing them
	DryRun bool

	// OnProgress is called after every batch with the processed and found
	// counts so far
	OnProgress func(processed, found int)
}

// Failure records a chapter the processor rejected
type Failure struct {
	ChapterID uuid.UUID
	Err       error
}

// Result summarizes a scan
type Result struct {
	Found     int
	Processed int
	Failed    []Failure
}

// Scan processes every matching chapter in store key order. It stops early
// only when ctx is done or the store fails.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	if !opts.DryRun && opts.Processor == nil {
		return res, errors.New("processor is required unless DryRun is set")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	var q mangashelf.Query
	if opts.MangaID != nil {
		q = mangashelf.Where("manga_id", opts.MangaID.String())
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, next, err := s.catalog.Chapters.FetchPage(ctx, q, cursor, opts.BatchSize)
		if err != nil {
			return res, err
		}
		res.Found += len(batch)

		for _, ch := range batch {
			if opts.DryRun {
				s.logger.InfoContext(ctx, "Would process chapter", "chapter_id", ch.ID, "manga_id", ch.MangaID, "length", ch.Length)
				res.Processed++
				continue
			}
			if err := opts.Processor.Process(ctx, ch); err != nil {
				s.logger.WarnContext(ctx, "Chapter failed", "chapter_id", ch.ID, "error", err)
				res.Failed = append(res.Failed, Failure{ChapterID: ch.ID, Err: err})
				continue
			}
			res.Processed++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(res.Processed+len(res.Failed), res.Found)
		}
		if next == "" {
			return res, nil
		}
		cursor = next
	}
}

// ForEach scans every chapter with fn
func (s *Scanner) ForEach(ctx context.Context, fn func(context.Context, *mangashelf.Chapter) error) (*Result, error) {
	return s.Scan(ctx, Options{Processor: ProcessorFunc(fn)})
}
