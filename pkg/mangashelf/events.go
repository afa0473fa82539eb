package mangashelf

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EventSink receives upload session lifecycle events. Errors returned by a
// sink are logged by the caller and never fail the operation.
type EventSink interface {
	SessionBegun(ctx context.Context, session *UploadSession) error
	BlobsAdded(ctx context.Context, sessionID uuid.UUID, blobs []*UploadedBlob) error
	SessionCommitted(ctx context.Context, sessionID uuid.UUID, chapter *Chapter, created bool) error
	SessionDeleted(ctx context.Context, sessionID uuid.UUID) error
}

// NoopEventSink discards every event
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) SessionBegun(ctx context.Context, session *UploadSession) error {
	return nil
}

func (n *NoopEventSink) BlobsAdded(ctx context.Context, sessionID uuid.UUID, blobs []*UploadedBlob) error {
	return nil
}

func (n *NoopEventSink) SessionCommitted(ctx context.Context, sessionID uuid.UUID, chapter *Chapter, created bool) error {
	return nil
}

func (n *NoopEventSink) SessionDeleted(ctx context.Context, sessionID uuid.UUID) error {
	return nil
}

// LogEventSink writes every event to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates a sink logging at info level. A nil logger uses
// slog.Default().
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) SessionBegun(ctx context.Context, session *UploadSession) error {
	attrs := []any{"session_id", session.ID, "manga_id", session.MangaID}
	if session.ChapterID != nil {
		attrs = append(attrs, "chapter_id", *session.ChapterID)
	}
	l.logger.InfoContext(ctx, "upload session begun", attrs...)
	return nil
}

func (l *LogEventSink) BlobsAdded(ctx context.Context, sessionID uuid.UUID, blobs []*UploadedBlob) error {
	l.logger.InfoContext(ctx, "blobs added", "session_id", sessionID, "count", len(blobs))
	return nil
}

func (l *LogEventSink) SessionCommitted(ctx context.Context, sessionID uuid.UUID, chapter *Chapter, created bool) error {
	l.logger.InfoContext(ctx, "upload session committed",
		"session_id", sessionID,
		"chapter_id", chapter.ID,
		"length", chapter.Length,
		"created", created)
	return nil
}

func (l *LogEventSink) SessionDeleted(ctx context.Context, sessionID uuid.UUID) error {
	l.logger.InfoContext(ctx, "upload session deleted", "session_id", sessionID)
	return nil
}
