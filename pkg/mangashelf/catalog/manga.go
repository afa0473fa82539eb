package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// CreateManga validates and stores a new manga
func (c *Catalog) CreateManga(ctx context.Context, caller mangashelf.Caller, m *mangashelf.Manga) error {
	if err := caller.Check(mangashelf.ActionCreate, mangashelf.MangaACL); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = uuid.Nil
	m.CreateTime = time.Now().UTC()
	return c.Manga.Save(ctx, m)
}

// GetManga returns a manga the caller may view
func (c *Catalog) GetManga(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) (*mangashelf.Manga, error) {
	m, err := c.Manga.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionView, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateManga replaces the editable fields. A non-zero m.Version must match
// the stored version.
func (c *Catalog) UpdateManga(ctx context.Context, caller mangashelf.Caller, m *mangashelf.Manga) (*mangashelf.Manga, error) {
	current, err := c.Manga.Find(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionEdit, current); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Version != 0 && m.Version != current.Version {
		return nil, mangashelf.ErrVersionConflict
	}

	current.Title = m.Title
	current.Description = m.Description
	current.Author = m.Author
	current.Artist = m.Artist
	current.Year = m.Year
	current.Status = m.Status
	if err := c.Manga.Update(ctx, current); err != nil {
		return nil, err
	}
	c.mangaCache.Remove(current.ID)
	return current, nil
}

// DeleteManga removes a manga with its chapters, their comments and every
// stored page
func (c *Catalog) DeleteManga(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) error {
	m, err := c.Manga.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := caller.Check(mangashelf.ActionEdit, m); err != nil {
		return err
	}

	chapters, err := c.Chapters.FetchAll(ctx, mangashelf.Where("manga_id", id.String()), 0)
	if err != nil {
		return err
	}
	for _, ch := range chapters {
		if err := c.deleteChapter(ctx, ch); err != nil {
			return err
		}
	}

	prefix := mangashelf.MangaPrefix(id)
	if err := c.pages.DeleteTree(ctx, prefix); err != nil {
		return blobError("delete_tree", prefix, err)
	}
	if err := c.Manga.Delete(ctx, id); err != nil {
		return err
	}
	c.mangaCache.Remove(id)
	c.logger.InfoContext(ctx, "manga deleted", "manga_id", id, "chapters", len(chapters))
	return nil
}

// SearchManga lists manga whose title contains title, oldest first
func (c *Catalog) SearchManga(ctx context.Context, title string, req mangashelf.PageRequest) (*mangashelf.PageResult[*mangashelf.Manga], error) {
	req, err := c.pageRequest(req)
	if err != nil {
		return nil, err
	}
	var q mangashelf.Query
	if title = strings.TrimSpace(title); title != "" {
		q = q.Contains("title", title)
	}
	return c.Manga.Paginate(ctx, q, req, mangashelf.ByTime(func(m *mangashelf.Manga) time.Time {
		return m.CreateTime
	}), false)
}

// lookupManga reads through the manga cache
func (c *Catalog) lookupManga(ctx context.Context, id uuid.UUID) (*mangashelf.Manga, error) {
	if m, ok := c.mangaCache.Get(id); ok {
		return &m, nil
	}
	m, err := c.Manga.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mangaCache.Add(id, *m)
	return m, nil
}
