package mangashelf

import (
	"fmt"

	"github.com/google/uuid"
)

// BlobKey is where the bytes of a staged upload blob are stored.
func BlobKey(blobID uuid.UUID) string {
	return fmt.Sprintf("blobs/%s.jpg", blobID)
}

// ChapterPrefix is the key prefix shared by every page of a chapter.
func ChapterPrefix(mangaID, chapterID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/", mangaID, chapterID)
}

// MangaPrefix is the key prefix shared by every page of a manga.
func MangaPrefix(mangaID uuid.UUID) string {
	return fmt.Sprintf("%s/", mangaID)
}

// PageKey is where page n (1-based) of a chapter is stored.
func PageKey(mangaID, chapterID uuid.UUID, n int) string {
	return fmt.Sprintf("%s%d.jpg", ChapterPrefix(mangaID, chapterID), n)
}

// BackupRoot is the key prefix shared by every page backup.
const BackupRoot = "backups/"

// BackupPrefix holds the pages a session's commit is replacing until the
// commit either lands or rolls back.
func BackupPrefix(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s%s/", BackupRoot, sessionID)
}

// BackupKey is where page n of the replaced chapter is kept.
func BackupKey(sessionID uuid.UUID, n int) string {
	return fmt.Sprintf("%s%d.jpg", BackupPrefix(sessionID), n)
}
