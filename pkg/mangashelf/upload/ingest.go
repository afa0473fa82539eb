package upload

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/metrics"
)

// File is one uploaded part: a page image or an archive of pages
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// AddFiles normalizes the files into session blobs, appended after the
// existing ones. Either every file is added or none is.
func (e *Engine) AddFiles(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID, files []File) ([]*mangashelf.UploadedBlob, error) {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, mangashelf.Invalid("no files were provided")
	}
	kinds := make([]archiveKind, len(files))
	for i, f := range files {
		kind, ok := classify(f.ContentType)
		if !ok {
			return nil, mangashelf.Invalid("'%s' has an unsupported type %q", f.Name, f.ContentType)
		}
		kinds[i] = kind
	}

	existing, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	ws := e.workspace(s.ID)
	scratch, err := ws.scratch()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	in := &ingest{engine: e, session: s, ws: ws, scratch: scratch, next: nextPosition(existing)}
	for i, f := range files {
		if kinds[i] == notArchive {
			err = in.addImage(ctx, f)
		} else {
			err = in.addArchive(ctx, f, kinds[i])
		}
		if err != nil {
			e.discard(ctx, blobIDs(in.created))
			return nil, err
		}
	}

	metrics.UploadedPagesTotal.Add(float64(len(in.created)))
	if err := e.events.BlobsAdded(ctx, s.ID, in.created); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "event", "blobs_added", "err", err)
	}
	return in.created, nil
}

// ingest holds the state of one AddFiles call
type ingest struct {
	engine  *Engine
	session *mangashelf.UploadSession
	ws      workspace
	scratch string
	next    int
	created []*mangashelf.UploadedBlob
}

func (in *ingest) addImage(ctx context.Context, f File) error {
	path := filepath.Join(in.scratch, uuid.NewString())
	if err := writeFile(path, f.Content); err != nil {
		return err
	}
	defer os.Remove(path)
	return in.addPage(ctx, path, filepath.Base(f.Name))
}

func (in *ingest) addArchive(ctx context.Context, f File, kind archiveKind) error {
	src := filepath.Join(in.ws.incoming(), uuid.NewString())
	if err := writeFile(src, f.Content); err != nil {
		return err
	}
	defer os.Remove(src)

	dest := filepath.Join(in.scratch, uuid.NewString())
	defer os.RemoveAll(dest)
	if err := extractArchive(kind, src, filepath.Base(f.Name), dest); err != nil {
		return err
	}
	pages, err := collectImages(dest)
	if err != nil {
		return fmt.Errorf("failed to scan extracted archive: %w", err)
	}
	for _, p := range pages {
		if err := in.addPage(ctx, p, filepath.Base(p)); err != nil {
			return err
		}
		if err := os.Remove(p); err != nil {
			in.engine.logger.WarnContext(ctx, "failed to remove extracted page", "path", p, "err", err)
		}
	}
	return nil
}

// addPage decodes the file at path and stores it as a JPEG blob
func (in *ingest) addPage(ctx context.Context, path, name string) error {
	img, err := decodeFile(path, name)
	if err != nil {
		return err
	}
	buf, err := encodePage(img, in.engine.jpegQuality)
	if err != nil {
		return err
	}

	blob := &mangashelf.UploadedBlob{
		Base:      mangashelf.Base{ID: uuid.New()},
		SessionID: in.session.ID,
		Name:      name,
		Position:  in.next,
	}
	key := mangashelf.BlobKey(blob.ID)
	if err := in.engine.blobs.Put(ctx, key, buf); err != nil {
		in.engine.discard(ctx, []uuid.UUID{blob.ID})
		return blobError("put", key, err)
	}
	if err := in.engine.catalog.Blobs.Save(ctx, blob); err != nil {
		in.engine.discard(ctx, []uuid.UUID{blob.ID})
		return err
	}
	in.created = append(in.created, blob)
	in.next++
	return nil
}

func decodeFile(path, name string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return decodeImage(f, name)
}

func writeFile(path string, r io.Reader) error {
	if r == nil {
		return mangashelf.Invalid("'%s' has no content", filepath.Base(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
