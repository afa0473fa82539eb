package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
)

// mediaCacheControl is sent with every page. Page keys are never reused for
// different content within a chapter version.
const mediaCacheControl = "public, max-age=31536000"

func (s *Server) mangaRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.SearchManga)
	r.Post("/", s.CreateManga)
	r.Route("/{manga_id}", func(r chi.Router) {
		r.Get("/", s.GetManga)
		r.Put("/", s.UpdateManga)
		r.Delete("/", s.DeleteManga)
		r.Get("/chapters", s.MangaChapters)
	})
	return r
}

func (s *Server) chapterRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.LatestChapters)
	r.Route("/{chapter_id}", func(r chi.Router) {
		r.Get("/", s.GetChapter)
		r.Put("/", s.UpdateChapter)
		r.Delete("/", s.DeleteChapter)
		r.Get("/comments", s.ChapterComments)
		r.Post("/comments", s.CreateComment)
	})
	return r
}

func (s *Server) commentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{comment_id}", func(r chi.Router) {
		r.Get("/", s.GetComment)
		r.Put("/", s.UpdateComment)
		r.Delete("/", s.DeleteComment)
	})
	return r
}

func (s *Server) userRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.RegisterUser)
	r.Get("/{user_id}", s.GetUser)
	return r
}

// pageRequest reads limit and offset from the query string
func pageRequest(r *http.Request) (mangashelf.PageRequest, error) {
	var req mangashelf.PageRequest
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, mangashelf.Invalid("invalid %s %q", name, v)
		}
		*dst = n
	}
	return req, nil
}

// SearchManga handles GET /manga?title&limit&offset
func (s *Server) SearchManga(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.catalog.SearchManga(r.Context(), r.URL.Query().Get("title"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// CreateManga handles POST /manga
func (s *Server) CreateManga(w http.ResponseWriter, r *http.Request) {
	var m mangashelf.Manga
	if err := render.DecodeJSON(r.Body, &m); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	m.ID = uuid.Nil
	if err := s.catalog.CreateManga(r.Context(), CallerFrom(r.Context()), &m); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, m)
}

// GetManga handles GET /manga/{manga_id}
func (s *Server) GetManga(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "manga_id")
	if !ok {
		return
	}
	m, err := s.catalog.GetManga(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

// UpdateManga handles PUT /manga/{manga_id}
func (s *Server) UpdateManga(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "manga_id")
	if !ok {
		return
	}
	var m mangashelf.Manga
	if err := render.DecodeJSON(r.Body, &m); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	m.ID = id
	updated, err := s.catalog.UpdateManga(r.Context(), CallerFrom(r.Context()), &m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, updated)
}

// DeleteManga handles DELETE /manga/{manga_id}
func (s *Server) DeleteManga(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "manga_id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteManga(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}

// MangaChapters handles GET /manga/{manga_id}/chapters
func (s *Server) MangaChapters(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "manga_id")
	if !ok {
		return
	}
	if _, err := s.catalog.GetManga(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	chapters, err := s.catalog.ChaptersOfManga(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, chapters)
}

// LatestChapters handles GET /chapter?limit&offset
func (s *Server) LatestChapters(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.catalog.LatestChapters(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// GetChapter handles GET /chapter/{chapter_id}
func (s *Server) GetChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "chapter_id")
	if !ok {
		return
	}
	ch, err := s.catalog.GetChapter(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ch)
}

// UpdateChapterRequest edits chapter metadata
type UpdateChapterRequest struct {
	mangashelf.ChapterDraft
	Version int `json:"version"`
}

// UpdateChapter handles PUT /chapter/{chapter_id}
func (s *Server) UpdateChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "chapter_id")
	if !ok {
		return
	}
	var req UpdateChapterRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	ch, err := s.catalog.UpdateChapter(r.Context(), CallerFrom(r.Context()), id, req.ChapterDraft, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ch)
}

// DeleteChapter handles DELETE /chapter/{chapter_id}
func (s *Server) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "chapter_id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteChapter(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}

// CommentRequest creates or edits a comment
type CommentRequest struct {
	Content string     `json:"content"`
	ReplyTo *uuid.UUID `json:"reply_to,omitempty"`
}

// ChapterComments handles GET /chapter/{chapter_id}/comments
func (s *Server) ChapterComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "chapter_id")
	if !ok {
		return
	}
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.catalog.CommentsOfChapter(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// CreateComment handles POST /chapter/{chapter_id}/comments
func (s *Server) CreateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "chapter_id")
	if !ok {
		return
	}
	var req CommentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	c, err := s.catalog.CreateComment(r.Context(), CallerFrom(r.Context()), id, req.Content, req.ReplyTo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, c)
}

// GetComment handles GET /comment/{comment_id}
func (s *Server) GetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "comment_id")
	if !ok {
		return
	}
	c, err := s.catalog.GetComment(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, c)
}

// UpdateComment handles PUT /comment/{comment_id}
func (s *Server) UpdateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "comment_id")
	if !ok {
		return
	}
	var req CommentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	c, err := s.catalog.UpdateComment(r.Context(), CallerFrom(r.Context()), id, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, c)
}

// DeleteComment handles DELETE /comment/{comment_id}
func (s *Server) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "comment_id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteComment(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}

// GetSettings handles GET /settings
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.catalog.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, settings)
}

// UpdateSettings handles PUT /settings
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in mangashelf.Settings
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	settings, err := s.catalog.UpdateSettings(r.Context(), CallerFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, settings)
}

// RegisterUser handles POST /user
func (s *Server) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewUserInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	u, err := s.catalog.RegisterUser(r.Context(), CallerFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u.HashedPassword = ""
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, u)
}

// GetUser handles GET /user/{user_id}
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	u, err := s.catalog.GetUser(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u.HashedPassword = ""
	render.JSON(w, r, u)
}

// Media handles GET /media/* by streaming the stored page
func (s *Server) Media(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, r, &mangashelf.NotFoundError{Kind: "media", ID: key})
		return
	}
	rc, err := s.catalog.Pages().Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", mediaCacheControl)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.WarnContext(r.Context(), "Failed to stream media", "key", key, "error", err)
	}
}
