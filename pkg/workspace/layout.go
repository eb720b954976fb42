// Package workspace manages the on-disk directory layout backing each
// session: a per-session root holding the event log, a repo scratch
// directory, and opaque artifact blobs.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vibeforge/vibeforge/pkg/models"
)

const (
	repoDirName      = "repo"
	artifactsDirName = "artifacts"
	eventLogName     = "events.jsonl"
)

// Layout resolves per-session paths under a single workspace root.
// All methods are pure path arithmetic except Init and the artifact
// helpers, which touch the filesystem.
type Layout struct {
	root string
}

// NewLayout returns a Layout rooted at root. The root itself is created
// lazily by Init.
func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

// Root returns the workspace root directory.
func (l *Layout) Root() string {
	return l.root
}

// SessionDir returns the directory owned by the given session.
func (l *Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.root, sessionID)
}

// RepoDir returns the session's repository scratch directory.
func (l *Layout) RepoDir(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), repoDirName)
}

// ArtifactsDir returns the session's artifact blob directory.
func (l *Layout) ArtifactsDir(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), artifactsDirName)
}

// EventLogPath returns the session's append-only event log file.
func (l *Layout) EventLogPath(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), eventLogName)
}

// Init creates the session directory tree. It is idempotent.
func (l *Layout) Init(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	for _, dir := range []string{
		l.SessionDir(sessionID),
		l.RepoDir(sessionID),
		l.ArtifactsDir(sessionID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteArtifact stores an opaque blob under the session's artifacts
// directory, creating the tree if the session was never initialized.
func (l *Layout) WriteArtifact(sessionID, name string, blob []byte) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if err := validateArtifactName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(l.ArtifactsDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	path := filepath.Join(l.ArtifactsDir(sessionID), name)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return nil
}

// ReadArtifact loads a previously written blob.
func (l *Layout) ReadArtifact(sessionID, name string) ([]byte, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(filepath.Join(l.ArtifactsDir(sessionID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return blob, nil
}

// validateSessionID rejects identifiers that would escape the root.
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return models.NewValidationError("session_id", "must not be empty")
	}
	if strings.ContainsAny(sessionID, `/\`) || strings.Contains(sessionID, "..") {
		return models.NewValidationError("session_id", "must not contain path separators")
	}
	return nil
}

func validateArtifactName(name string) error {
	if name == "" {
		return models.NewValidationError("artifact", "name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return models.NewValidationError("artifact", "name must not contain path separators")
	}
	return nil
}
