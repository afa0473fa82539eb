package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

const maxCommentLength = 2000

func validateComment(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return mangashelf.Invalid("comment must not be empty")
	}
	if len(content) > maxCommentLength {
		return mangashelf.Invalid("comment exceeds %d characters", maxCommentLength)
	}
	return nil
}

// CreateComment posts a comment on a chapter as the caller
func (c *Catalog) CreateComment(ctx context.Context, caller mangashelf.Caller, chapterID uuid.UUID, content string, replyTo *uuid.UUID) (*mangashelf.Comment, error) {
	if err := caller.Check(mangashelf.ActionCreate, mangashelf.CommentACL); err != nil {
		return nil, err
	}
	if err := validateComment(content); err != nil {
		return nil, err
	}
	if _, err := c.Chapters.Find(ctx, chapterID); err != nil {
		return nil, err
	}
	if replyTo != nil {
		parent, err := c.Comments.Find(ctx, *replyTo)
		if err != nil {
			return nil, err
		}
		if parent.ChapterID != chapterID {
			return nil, mangashelf.Invalid("reply must target a comment of the same chapter")
		}
	}

	cm := &mangashelf.Comment{
		AuthorID:   caller.UserID,
		Content:    strings.TrimSpace(content),
		ChapterID:  chapterID,
		ReplyTo:    replyTo,
		CreateTime: time.Now().UTC(),
	}
	if err := c.Comments.Save(ctx, cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// GetComment returns a comment the caller may view
func (c *Catalog) GetComment(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) (*mangashelf.Comment, error) {
	cm, err := c.Comments.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionView, cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// UpdateComment replaces the content of a comment
func (c *Catalog) UpdateComment(ctx context.Context, caller mangashelf.Caller, id uuid.UUID, content string) (*mangashelf.Comment, error) {
	if err := validateComment(content); err != nil {
		return nil, err
	}
	cm, err := c.Comments.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionEdit, cm); err != nil {
		return nil, err
	}
	cm.Content = strings.TrimSpace(content)
	if err := c.Comments.Update(ctx, cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// DeleteComment removes a comment
func (c *Catalog) DeleteComment(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) error {
	cm, err := c.Comments.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := caller.Check(mangashelf.ActionEdit, cm); err != nil {
		return err
	}
	return c.Comments.Delete(ctx, id)
}

// CommentsOfChapter lists a chapter's comments, oldest first
func (c *Catalog) CommentsOfChapter(ctx context.Context, chapterID uuid.UUID, req mangashelf.PageRequest) (*mangashelf.PageResult[*mangashelf.Comment], error) {
	req, err := c.pageRequest(req)
	if err != nil {
		return nil, err
	}
	return c.Comments.Paginate(ctx, mangashelf.Where("chapter_id", chapterID.String()), req,
		mangashelf.ByTime(func(cm *mangashelf.Comment) time.Time { return cm.CreateTime }), false)
}
