package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// PageMismatch reports a chapter whose stored pages differ from 1..Length
type PageMismatch struct {
	ChapterID uuid.UUID
	Missing   []int
	Extra     []string
}

func (e *PageMismatch) Error() string {
	return fmt.Sprintf("chapter %s: %d missing pages %v, %d extra keys", e.ChapterID, len(e.Missing), e.Missing, len(e.Extra))
}

// PageChecker verifies that each chapter has exactly its pages stored
type PageChecker struct {
	Pages mangashelf.BlobStore
}

// Process lists the chapter prefix and compares it with the chapter length
func (p PageChecker) Process(ctx context.Context, ch *mangashelf.Chapter) error {
	prefix := mangashelf.ChapterPrefix(ch.MangaID, ch.ID)
	keys, err := p.Pages.List(ctx, prefix)
	if err != nil {
		return err
	}

	present := make(map[int]bool, len(keys))
	var extra []string
	for _, key := range keys {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".jpg"))
		if err != nil || n < 1 || n > ch.Length || !strings.HasSuffix(key, ".jpg") {
			extra = append(extra, key)
			continue
		}
		present[n] = true
	}
	var missing []int
	for n := 1; n <= ch.Length; n++ {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	return &PageMismatch{ChapterID: ch.ID, Missing: missing, Extra: extra}
}
