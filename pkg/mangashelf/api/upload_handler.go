package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

// maxMultipartMemory is how much of a multipart body is kept in memory
// before parts spill to temporary files
const maxMultipartMemory = 32 << 20

// BeginRequest opens an upload session
type BeginRequest struct {
	MangaID   uuid.UUID  `json:"manga_id"`
	ChapterID *uuid.UUID `json:"chapter_id,omitempty"`
}

// CommitRequest turns a session into chapter pages
type CommitRequest struct {
	PageOrder    []uuid.UUID             `json:"page_order"`
	ChapterDraft mangashelf.ChapterDraft `json:"chapter_draft"`
}

func (s *Server) uploadRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/begin", s.BeginUpload)
	r.Route("/{session_id}", func(r chi.Router) {
		r.Get("/", s.GetUpload)
		r.With(middleware.RequestSize(s.maxUploadBytes)).Post("/", s.AddFiles)
		r.Delete("/", s.DeleteUpload)
		r.Get("/permissions", s.UploadPermissions)
		r.Post("/commit", s.CommitUpload)
		r.Post("/slice", s.SliceUpload)
		r.Delete("/files", s.DeleteAllFiles)
		r.Delete("/{file_id}", s.DeleteFile)
	})
	return r
}

// pathID parses a uuid path parameter, writing a 400 when it is malformed
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, r, "invalid %s", name)
		return uuid.Nil, false
	}
	return id, true
}

// BeginUpload handles POST /upload/begin
func (s *Server) BeginUpload(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	view, err := s.uploads.Begin(r.Context(), CallerFrom(r.Context()), req.MangaID, req.ChapterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, view)
}

// GetUpload handles GET /upload/{session_id}
func (s *Server) GetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	view, err := s.uploads.Get(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// UploadPermissions handles GET /upload/{session_id}/permissions
func (s *Server) UploadPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	perms, err := s.uploads.Permissions(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, perms)
}

// AddFiles handles POST /upload/{session_id} with multipart files
func (s *Server) AddFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, ErrorResponse{Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		badRequest(w, r, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]upload.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer f.Close()
		files = append(files, upload.File{
			Name:        h.Filename,
			ContentType: contentType(h),
			Content:     f,
		})
	}

	blobs, err := s.uploads.AddFiles(r.Context(), CallerFrom(r.Context()), id, files)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, blobs)
}

func contentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// CommitUpload handles POST /upload/{session_id}/commit
func (s *Server) CommitUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	var req CommitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	res, err := s.uploads.Commit(r.Context(), CallerFrom(r.Context()), id, req.PageOrder, req.ChapterDraft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, res.Chapter)
}

// SliceUpload handles POST /upload/{session_id}/slice
func (s *Server) SliceUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	var ids []uuid.UUID
	if err := render.DecodeJSON(r.Body, &ids); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	blobs, err := s.uploads.Slice(r.Context(), CallerFrom(r.Context()), id, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, blobs)
}

// DeleteUpload handles DELETE /upload/{session_id}
func (s *Server) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	if err := s.uploads.Delete(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}

// DeleteAllFiles handles DELETE /upload/{session_id}/files
func (s *Server) DeleteAllFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	if err := s.uploads.DeleteAllBlobs(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}

// DeleteFile handles DELETE /upload/{session_id}/{file_id}
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "session_id")
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "file_id")
	if !ok {
		return
	}
	if err := s.uploads.DeleteBlob(r.Context(), CallerFrom(r.Context()), id, fileID); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, "OK")
}
