package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

const repoDirName = "repo"

// RepoPath returns where a session's project is materialized.
func RepoPath(root, sessionID string) string {
	return filepath.Join(root, sessionID, repoDirName)
}

// Materialize writes files into a fresh {root}/{sessionID}/repo directory.
// Any previous contents of the session directory are removed first, so
// repeating a run leaves exactly the new file set. onWrite is called with the
// relative path of each file after it is written.
func Materialize(root, sessionID string, files []models.GeneratedFile, onWrite func(rel string)) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}

	sessionDir := filepath.Join(root, sessionID)
	if err := os.RemoveAll(sessionDir); err != nil {
		return "", fmt.Errorf("failed to clear session directory: %w", err)
	}

	repo := filepath.Join(sessionDir, repoDirName)
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}

	for _, f := range files {
		target := filepath.Join(repo, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
		if onWrite != nil {
			onWrite(f.Path)
		}
	}

	abs, err := filepath.Abs(repo)
	if err != nil {
		return repo, nil
	}
	return abs, nil
}
