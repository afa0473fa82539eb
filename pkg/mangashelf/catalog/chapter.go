package catalog

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// DetailedChapter is a chapter together with its manga
type DetailedChapter struct {
	*mangashelf.Chapter
	Manga *mangashelf.Manga `json:"manga"`
}

// CreateChapter registers the chapter's scan group and stores the chapter.
// A preset id is kept.
func (c *Catalog) CreateChapter(ctx context.Context, ch *mangashelf.Chapter) error {
	if err := c.registerScanGroup(ctx, ch.ScanGroup); err != nil {
		return err
	}
	if ch.UploadTime.IsZero() {
		ch.UploadTime = time.Now().UTC()
	}
	return c.Chapters.Save(ctx, ch)
}

// SaveChapter persists changes to an existing chapter with a version check
func (c *Catalog) SaveChapter(ctx context.Context, ch *mangashelf.Chapter) error {
	if err := c.registerScanGroup(ctx, ch.ScanGroup); err != nil {
		return err
	}
	return c.Chapters.Update(ctx, ch)
}

func (c *Catalog) registerScanGroup(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	id := mangashelf.ScanGroupID(name)
	_, err := c.ScanGroups.Find(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mangashelf.ErrNotFound) {
		return err
	}
	return c.ScanGroups.Save(ctx, &mangashelf.ScanGroup{Base: mangashelf.Base{ID: id}, Name: name})
}

// GetChapter returns a chapter and its manga
func (c *Catalog) GetChapter(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) (*DetailedChapter, error) {
	ch, err := c.Chapters.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionView, ch); err != nil {
		return nil, err
	}
	m, err := c.lookupManga(ctx, ch.MangaID)
	if err != nil {
		return nil, err
	}
	return &DetailedChapter{Chapter: ch, Manga: m}, nil
}

// UpdateChapter applies a draft. version, when non-zero, must match.
func (c *Catalog) UpdateChapter(ctx context.Context, caller mangashelf.Caller, id uuid.UUID, draft mangashelf.ChapterDraft, version int) (*mangashelf.Chapter, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	ch, err := c.Chapters.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionEdit, ch); err != nil {
		return nil, err
	}
	if version != 0 && version != ch.Version {
		return nil, mangashelf.ErrVersionConflict
	}
	ch.Apply(draft)
	if err := c.SaveChapter(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// DeleteChapter removes a chapter, its comments and its pages
func (c *Catalog) DeleteChapter(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) error {
	ch, err := c.Chapters.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := caller.Check(mangashelf.ActionEdit, ch); err != nil {
		return err
	}
	return c.deleteChapter(ctx, ch)
}

func (c *Catalog) deleteChapter(ctx context.Context, ch *mangashelf.Chapter) error {
	comments, err := c.Comments.FetchAll(ctx, mangashelf.Where("chapter_id", ch.ID.String()), 0)
	if err != nil {
		return err
	}
	for _, cm := range comments {
		if err := c.Comments.Delete(ctx, cm.ID); err != nil {
			return err
		}
	}

	prefix := mangashelf.ChapterPrefix(ch.MangaID, ch.ID)
	if err := c.pages.DeleteTree(ctx, prefix); err != nil {
		return blobError("delete_tree", prefix, err)
	}
	return c.Chapters.Delete(ctx, ch.ID)
}

// ChaptersOfManga returns every chapter of a manga, highest number first
func (c *Catalog) ChaptersOfManga(ctx context.Context, mangaID uuid.UUID) ([]*mangashelf.Chapter, error) {
	if _, err := c.Manga.Find(ctx, mangaID); err != nil {
		return nil, err
	}
	return c.chaptersOfManga(ctx, mangaID)
}

func (c *Catalog) chaptersOfManga(ctx context.Context, mangaID uuid.UUID) ([]*mangashelf.Chapter, error) {
	chapters, err := c.Chapters.FetchAll(ctx, mangashelf.Where("manga_id", mangaID.String()), 0)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(chapters, func(a, b *mangashelf.Chapter) int {
		return cmp.Compare(b.Number, a.Number)
	})
	return chapters, nil
}

// LatestChapters lists chapters by upload time, newest first, each with its
// manga
func (c *Catalog) LatestChapters(ctx context.Context, req mangashelf.PageRequest) (*mangashelf.PageResult[*DetailedChapter], error) {
	req, err := c.pageRequest(req)
	if err != nil {
		return nil, err
	}
	page, err := c.Chapters.Paginate(ctx, nil, req, mangashelf.ByTime(func(ch *mangashelf.Chapter) time.Time {
		return ch.UploadTime
	}), true)
	if err != nil {
		return nil, err
	}

	out := &mangashelf.PageResult[*DetailedChapter]{Total: page.Total, Items: make([]*DetailedChapter, 0, len(page.Items))}
	for _, ch := range page.Items {
		m, err := c.lookupManga(ctx, ch.MangaID)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, &DetailedChapter{Chapter: ch, Manga: m})
	}
	return out, nil
}

// ScanGroupNames lists every registered scan group
func (c *Catalog) ScanGroupNames(ctx context.Context) ([]string, error) {
	groups, err := c.ScanGroups.FetchAll(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names, nil
}
