package upload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	incomingDir = "incoming"
	filesDir    = "files"
)

// workspace is the per-session scratch directory. It holds incoming
// archives and extracted files until they are normalized into blobs.
type workspace struct {
	root string
}

func (e *Engine) workspace(sessionID uuid.UUID) workspace {
	return workspace{root: filepath.Join(e.tempPath, sessionID.String())}
}

func (w workspace) incoming() string {
	return filepath.Join(w.root, incomingDir)
}

func (w workspace) files() string {
	return filepath.Join(w.root, filesDir)
}

// ensure creates both areas; it is idempotent
func (w workspace) ensure() error {
	for _, dir := range []string{w.incoming(), w.files()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session workspace: %w", err)
		}
	}
	return nil
}

func (w workspace) remove() error {
	return os.RemoveAll(w.root)
}

// scratch creates a fresh directory for one call below the files area
func (w workspace) scratch() (string, error) {
	if err := w.ensure(); err != nil {
		return "", err
	}
	return os.MkdirTemp(w.files(), "batch-")
}
