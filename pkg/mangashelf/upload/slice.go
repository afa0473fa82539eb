package upload

import (
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// Slice stacks the given blobs vertically and cuts the strip into bands
// twice as tall as they are wide. The bands replace the originals and are
// returned in top to bottom order.
func (e *Engine) Slice(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID, ids []uuid.UUID) ([]*mangashelf.UploadedBlob, error) {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return nil, err
	}
	blobs, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := requireMembers(ids, blobs); err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(ids))
	for _, id := range ids {
		img, err := e.loadBlobImage(ctx, id)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	bands, err := sliceStrip(images)
	if err != nil {
		return nil, err
	}

	next := nextPosition(blobs)
	created := make([]*mangashelf.UploadedBlob, 0, len(bands))
	for i, band := range bands {
		b, err := e.storeBand(ctx, s.ID, band, i+1, next+i)
		if err != nil {
			e.discard(ctx, blobIDs(created))
			return nil, err
		}
		created = append(created, b)
	}

	if err := e.deleteRecords(ctx, ids); err != nil {
		return nil, err
	}
	e.scheduleBlobDeletion("upload.slice_originals", ids)
	return created, nil
}

func (e *Engine) loadBlobImage(ctx context.Context, id uuid.UUID) (image.Image, error) {
	key := mangashelf.BlobKey(id)
	rc, err := e.blobs.Get(ctx, key)
	if err != nil {
		return nil, blobError("get", key, err)
	}
	defer rc.Close()
	return decodeImage(rc, key)
}

func (e *Engine) storeBand(ctx context.Context, sessionID uuid.UUID, band image.Image, n, position int) (*mangashelf.UploadedBlob, error) {
	buf, err := encodePage(band, e.jpegQuality)
	if err != nil {
		return nil, err
	}
	b := &mangashelf.UploadedBlob{
		Base:      mangashelf.Base{ID: uuid.New()},
		SessionID: sessionID,
		Name:      fmt.Sprintf("slice_%d.jpg", n),
		Position:  position,
	}
	key := mangashelf.BlobKey(b.ID)
	if err := e.blobs.Put(ctx, key, buf); err != nil {
		e.discard(ctx, []uuid.UUID{b.ID})
		return nil, blobError("put", key, err)
	}
	if err := e.catalog.Blobs.Save(ctx, b); err != nil {
		e.discard(ctx, []uuid.UUID{b.ID})
		return nil, err
	}
	return b, nil
}
