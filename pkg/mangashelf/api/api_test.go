package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	repomemory "github.com/tendant/mangashelf/pkg/mangashelf/repo/memory"
	blobmemory "github.com/tendant/mangashelf/pkg/mangashelf/storage/memory"
	"github.com/tendant/mangashelf/pkg/mangashelf/tasks"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

const testSecret = "test-secret"

type testServer struct {
	handler http.Handler
	catalog *catalog.Catalog
	blobs   *blobmemory.Backend
	token   string
	manga   *mangashelf.Manga
}

func setupServerTest(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	ctx := context.Background()
	blobs := blobmemory.New()
	cat, err := catalog.New(repomemory.New(), blobs)
	require.NoError(t, err)

	runner := tasks.New(tasks.WithWorkers(1))
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	engine, err := upload.New(cat, runner, upload.WithTempPath(t.TempDir()))
	require.NoError(t, err)

	auth := NewTokenAuth("HS256", testSecret)
	admin, err := cat.BootstrapUser(ctx, catalog.NewUserInput{
		Username: "admin",
		Password: "hunter22",
		Role:     mangashelf.RoleAdmin,
	})
	require.NoError(t, err)
	token, err := IssueToken(auth, admin, time.Hour)
	require.NoError(t, err)

	manga := &mangashelf.Manga{Title: "Dungeon Meshi"}
	require.NoError(t, cat.CreateManga(ctx, mangashelf.NewCaller(admin.ID, mangashelf.RoleAdmin), manga))

	return &testServer{
		handler: New(cat, engine, append([]Option{WithTokenAuth(auth)}, opts...)...).Routes(),
		catalog: cat,
		blobs:   blobs,
		token:   token,
		manga:   manga,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) uploadPNG(t *testing.T, sessionID uuid.UUID, name string, w, h int) *httptest.ResponseRecorder {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(y), B: 10, A: 255})
		}
	}
	var data bytes.Buffer
	require.NoError(t, png.Encode(&data, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/"+sessionID.String(), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := setupServerTest(t)
	w := s.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestLogin(t *testing.T) {
	s := setupServerTest(t)

	t.Run("valid credentials", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Login: "admin", Password: "hunter22"}, false)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[LoginResponse](t, w)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "admin", resp.User.Username)
		assert.Empty(t, resp.User.HashedPassword)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Login: "admin", Password: "nope"}, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUploadWorkflow(t *testing.T) {
	s := setupServerTest(t)

	w := s.do(t, http.MethodPost, "/upload/begin", BeginRequest{MangaID: s.manga.ID}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[upload.SessionView](t, w)
	require.NotEqual(t, uuid.Nil, view.ID)
	assert.Empty(t, view.Blobs)

	w = s.do(t, http.MethodGet, "/upload/"+view.ID.String()+"/permissions", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	perms := decode[map[string]bool](t, w)
	assert.True(t, perms[mangashelf.ActionEdit])

	w = s.uploadPNG(t, view.ID, "001.png", 20, 40)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	blobs := decode[[]*mangashelf.UploadedBlob](t, w)
	require.Len(t, blobs, 1)
	assert.Equal(t, "001.png", blobs[0].Name)

	w = s.do(t, http.MethodPost, "/upload/"+view.ID.String()+"/commit", CommitRequest{
		PageOrder:    []uuid.UUID{blobs[0].ID},
		ChapterDraft: mangashelf.ChapterDraft{Name: "Ch. 1", ScanGroup: "meshi scans", Number: 1},
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chapter := decode[mangashelf.Chapter](t, w)
	assert.Equal(t, 1, chapter.Length)
	assert.Equal(t, s.manga.ID, chapter.MangaID)

	w = s.do(t, http.MethodGet, "/media/"+mangashelf.PageKey(s.manga.ID, chapter.ID, 1), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, mediaCacheControl, w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = s.do(t, http.MethodGet, "/upload/"+view.ID.String(), nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/chapter", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode[mangashelf.PageResult[*catalog.DetailedChapter]](t, w)
	require.Len(t, latest.Items, 1)
	assert.Equal(t, chapter.ID, latest.Items[0].ID)
	assert.Equal(t, s.manga.Title, latest.Items[0].Manga.Title)
}

func TestUploadErrors(t *testing.T) {
	s := setupServerTest(t)

	w := s.do(t, http.MethodPost, "/upload/begin", BeginRequest{MangaID: s.manga.ID}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	view := decode[upload.SessionView](t, w)
	session := "/upload/" + view.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		authed bool
		status int
		reason string
	}{
		{"anonymous begin", http.MethodPost, "/upload/begin", BeginRequest{MangaID: s.manga.ID}, false, http.StatusUnauthorized, ""},
		{"unknown manga", http.MethodPost, "/upload/begin", BeginRequest{MangaID: uuid.New()}, true, http.StatusNotFound, ""},
		{"malformed session id", http.MethodGet, "/upload/not-a-uuid", nil, true, http.StatusBadRequest, ""},
		{"unknown session", http.MethodGet, "/upload/" + uuid.NewString(), nil, true, http.StatusNotFound, ""},
		{"anonymous get", http.MethodGet, session, nil, false, http.StatusUnauthorized, ""},
		{"empty commit", http.MethodPost, session + "/commit", CommitRequest{
			ChapterDraft: mangashelf.ChapterDraft{Name: "x", ScanGroup: "y"},
		}, true, http.StatusBadRequest, "at least one page needs to be provided"},
		{"foreign blob", http.MethodDelete, session + "/" + uuid.NewString(), nil, true, http.StatusBadRequest, "The blob doesn't exist in the session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body, tt.authed)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.reason != "" {
				assert.Equal(t, tt.reason, decode[ErrorResponse](t, w).Error)
			}
		})
	}

	t.Run("delete session", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, session, nil, true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", decode[string](t, w))

		w = s.do(t, http.MethodGet, session, nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUploadTooLarge(t *testing.T) {
	s := setupServerTest(t, WithMaxUploadBytes(128))

	w := s.do(t, http.MethodPost, "/upload/begin", BeginRequest{MangaID: s.manga.ID}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	view := decode[upload.SessionView](t, w)

	w = s.uploadPNG(t, view.ID, "huge.png", 64, 64)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, "upload exceeds 128 bytes", decode[ErrorResponse](t, w).Error)

	w = s.do(t, http.MethodGet, "/upload/"+view.ID.String(), nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[upload.SessionView](t, w).Blobs)
}

func TestSearchManga(t *testing.T) {
	s := setupServerTest(t)
	for _, title := range []string{"Dorohedoro", "Dragon Ball"} {
		w := s.do(t, http.MethodPost, "/manga", mangashelf.Manga{Title: title}, true)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		query  string
		status int
		titles []string
	}{
		{"all", "", http.StatusOK, []string{"Dungeon Meshi", "Dorohedoro", "Dragon Ball"}},
		{"title filter", "?title=Dr", http.StatusOK, []string{"Dragon Ball"}},
		{"window", "?limit=1&offset=1", http.StatusOK, []string{"Dorohedoro"}},
		{"bad limit", "?limit=abc", http.StatusBadRequest, nil},
		{"negative offset", "?offset=-1", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/manga"+tt.query, nil, false)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.titles == nil {
				return
			}
			page := decode[mangashelf.PageResult[*mangashelf.Manga]](t, w)
			var titles []string
			for _, m := range page.Items {
				titles = append(titles, m.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestMediaNotFound(t *testing.T) {
	s := setupServerTest(t)
	w := s.do(t, http.MethodGet, "/media/missing/page.jpg", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrincipalMiddleware(t *testing.T) {
	auth := NewTokenAuth("HS256", testSecret)
	user := &mangashelf.User{Base: mangashelf.Base{ID: uuid.New()}, Role: mangashelf.RoleUploader}
	valid, err := IssueToken(auth, user, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(auth, user, -time.Hour)
	require.NoError(t, err)
	forged, err := IssueToken(NewTokenAuth("HS256", "other"), user, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   uuid.UUID
	}{
		{"no token", "", uuid.Nil},
		{"valid token", "Bearer " + valid, user.ID},
		{"expired token", "Bearer " + expired, uuid.Nil},
		{"wrong key", "Bearer " + forged, uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got mangashelf.Caller
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = CallerFrom(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			jwtauth.Verifier(auth)(PrincipalMiddleware(next)).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got.UserID)
			assert.Equal(t, tt.want != uuid.Nil, got.Authenticated())
		})
	}
}
