package mangashelf

import (
	"time"

	"github.com/google/uuid"
)

// Base holds the fields shared by every stored entity.
type Base struct {
	ID      uuid.UUID `json:"id"`
	Version int       `json:"version"`
}

// Meta returns the shared fields so generic code can assign ids and versions.
func (b *Base) Meta() *Base {
	return b
}

// Entity is implemented by pointers to every stored type.
type Entity interface {
	Meta() *Base
}

// MangaStatus is the publication state of a manga.
type MangaStatus string

const (
	MangaOngoing   MangaStatus = "ongoing"
	MangaCompleted MangaStatus = "completed"
	MangaHiatus    MangaStatus = "hiatus"
	MangaCancelled MangaStatus = "cancelled"
)

// Role names a user role. Roles map to role:<name> principals.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUploader Role = "uploader"
	RoleUser     Role = "user"
)

// Manga represents a series.
type Manga struct {
	Base
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Author      string      `json:"author"`
	Artist      string      `json:"artist"`
	Year        *int        `json:"year,omitempty"`
	Status      MangaStatus `json:"status"`
	CreateTime  time.Time   `json:"create_time"`
}

// Validate checks the user supplied fields.
func (m *Manga) Validate() error {
	if m.Title == "" {
		return Invalid("title is required")
	}
	if m.Year != nil && (*m.Year < 1900 || *m.Year > 2100) {
		return Invalid("year %d out of range", *m.Year)
	}
	switch m.Status {
	case MangaOngoing, MangaCompleted, MangaHiatus, MangaCancelled:
	case "":
		m.Status = MangaOngoing
	default:
		return Invalid("unknown manga status %q", m.Status)
	}
	return nil
}

// ChapterDraft carries the user editable chapter fields.
type ChapterDraft struct {
	Name      string  `json:"name"`
	ScanGroup string  `json:"scan_group"`
	Volume    *int    `json:"volume,omitempty"`
	Number    float64 `json:"number"`
	Webtoon   bool    `json:"webtoon"`
}

// Validate checks the draft before it is applied to a chapter.
func (d ChapterDraft) Validate() error {
	if d.Name == "" {
		return Invalid("chapter name is required")
	}
	if d.ScanGroup == "" {
		return Invalid("scan group is required")
	}
	if d.Number < 0 {
		return Invalid("chapter number must not be negative")
	}
	if d.Volume != nil && *d.Volume < 0 {
		return Invalid("volume must not be negative")
	}
	return nil
}

// Chapter is one published chapter of a manga. Its pages live in the blob
// store under PageKey(MangaID, ID, n) for n in 1..Length.
type Chapter struct {
	Base
	OwnerID    *uuid.UUID `json:"owner_id,omitempty"`
	Name       string     `json:"name"`
	ScanGroup  string     `json:"scan_group"`
	Volume     *int       `json:"volume,omitempty"`
	Number     float64    `json:"number"`
	Length     int        `json:"length"`
	Webtoon    bool       `json:"webtoon"`
	UploadTime time.Time  `json:"upload_time"`
	MangaID    uuid.UUID  `json:"manga_id"`
}

// Apply copies the draft fields onto the chapter.
func (c *Chapter) Apply(d ChapterDraft) {
	c.Name = d.Name
	c.ScanGroup = d.ScanGroup
	c.Volume = d.Volume
	c.Number = d.Number
	c.Webtoon = d.Webtoon
}

// ScanGroup is a translation group. Its id is derived from the name.
type ScanGroup struct {
	Base
	Name string `json:"name"`
}

var scanGroupNamespace = uuid.MustParse("5b0c3f36-8f3e-4c8e-9a55-2f0e0a3c9d71")

// ScanGroupID returns the deterministic id for a group name.
func ScanGroupID(name string) uuid.UUID {
	return uuid.NewSHA1(scanGroupNamespace, []byte(name))
}

// Comment is a reader comment on a chapter.
type Comment struct {
	Base
	AuthorID   uuid.UUID  `json:"author_id"`
	Content    string     `json:"content"`
	ChapterID  uuid.UUID  `json:"chapter_id"`
	ReplyTo    *uuid.UUID `json:"reply_to,omitempty"`
	CreateTime time.Time  `json:"create_time"`
}

// User is an account.
type User struct {
	Base
	Role           Role   `json:"role"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	HashedPassword string `json:"hashed_password"`
}

// SettingsID is the well-known id of the site settings record.
var SettingsID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Settings holds site wide texts.
type Settings struct {
	Base
	Title1 string `json:"title1"`
	Title2 string `json:"title2"`
	About  string `json:"about"`
}

// UploadSession stages pages before they become a chapter. A session with a
// ChapterID edits that chapter; without one it creates a new chapter.
type UploadSession struct {
	Base
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	MangaID   uuid.UUID  `json:"manga_id"`
	ChapterID *uuid.UUID `json:"chapter_id,omitempty"`
}

// UploadedBlob is one staged page. Name is the original filename; the
// bytes are stored under BlobKey(ID). Position orders blobs for display.
type UploadedBlob struct {
	Base
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
}
