package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/persist"
)

// metadataBasename is the filename (sans extension) persist.SaveState
// writes the checkpoint metadata under.
const metadataBasename = "checkpoint"

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// Sentinel errors for checkpoint validation.
var (
	ErrWorkspaceMismatch = errors.New("workspace path mismatch")
	ErrAnalyzerMismatch  = errors.New("analyzer mismatch")
)

// DefaultDir returns the default checkpoint directory (~/.devpulse/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".devpulse", "checkpoints")
}

// WorkspaceHash computes a short hash of the workspace path for use as directory name.
func WorkspaceHash(workspacePath string) string {
	h := sha256.Sum256([]byte(workspacePath))

	return hex.EncodeToString(h[:8]) // First 8 bytes = 16 hex chars.
}

// Default retention values.
const (
	DefaultMaxAge  = 7 * 24 * time.Hour // 7 days.
	DefaultMaxSize = 1 << 30            // 1GB.
)

// Directory permissions for checkpoints.
const dirPerm = 0o750

// Manager coordinates checkpoints across analyzers.
type Manager struct {
	BaseDir       string
	WorkspaceHash string
	MaxAge        time.Duration
	MaxSize       int64
}

// NewManager creates a new checkpoint manager.
func NewManager(baseDir, workspaceHash string) *Manager {
	return &Manager{
		BaseDir:       baseDir,
		WorkspaceHash: workspaceHash,
		MaxAge:        DefaultMaxAge,
		MaxSize:       DefaultMaxSize,
	}
}

// CheckpointDir returns the directory for this workspace's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.WorkspaceHash)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.CheckpointDir(), metadataBasename+".json")
}

// Exists returns true if the checkpoint metadata file exists; its
// contents are not validated.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint for the current repository.
func (m *Manager) Clear() error {
	cpDir := m.CheckpointDir()

	_, statErr := os.Stat(cpDir)
	if os.IsNotExist(statErr) {
		return nil
	}

	err := os.RemoveAll(cpDir)
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save creates a checkpoint for all checkpointable analyzers.
func (m *Manager) Save(
	checkpointables []Checkpointable,
	state StreamingState,
	workspacePath string,
	analyzerNames []string,
) error {
	cpDir := m.CheckpointDir()

	err := os.MkdirAll(cpDir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	checksums := make(map[string]string)

	// Save each checkpointable analyzer.
	for i, cp := range checkpointables {
		analyzerDir := filepath.Join(cpDir, fmt.Sprintf("analyzer_%d", i))

		mkdirErr := os.MkdirAll(analyzerDir, dirPerm)
		if mkdirErr != nil {
			return fmt.Errorf("create analyzer dir: %w", mkdirErr)
		}

		saveErr := cp.SaveCheckpoint(analyzerDir)
		if saveErr != nil {
			return fmt.Errorf("save checkpoint for analyzer %d: %w", i, saveErr)
		}
	}

	// Create metadata.
	meta := Metadata{
		Version:        MetadataVersion,
		WorkspacePath:  workspacePath,
		WorkspaceHash:  m.WorkspaceHash,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		Analyzers:      analyzerNames,
		StreamingState: state,
		Checksums:      checksums,
	}

	// Write metadata.
	writeErr := persist.SaveState(cpDir, metadataBasename, persist.NewJSONCodec(), &meta)
	if writeErr != nil {
		return fmt.Errorf("save metadata: %w", writeErr)
	}

	return nil
}

// LoadMetadata loads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	var meta Metadata

	err := persist.LoadState(m.CheckpointDir(), metadataBasename, persist.NewJSONCodec(), &meta)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	return &meta, nil
}

// Load restores state for all checkpointable analyzers.
func (m *Manager) Load(checkpointables []Checkpointable) (*StreamingState, error) {
	meta, err := m.LoadMetadata()
	if err != nil {
		return nil, err
	}

	cpDir := m.CheckpointDir()

	// Load each checkpointable analyzer.
	for i, cp := range checkpointables {
		analyzerDir := filepath.Join(cpDir, fmt.Sprintf("analyzer_%d", i))

		loadErr := cp.LoadCheckpoint(analyzerDir)
		if loadErr != nil {
			return nil, fmt.Errorf("load checkpoint for analyzer %d: %w", i, loadErr)
		}
	}

	return &meta.StreamingState, nil
}

// Validate checks if the checkpoint is valid for the given parameters.
func (m *Manager) Validate(workspacePath string, analyzerNames []string) error {
	meta, err := m.LoadMetadata()
	if err != nil {
		return err
	}

	if meta.WorkspacePath != workspacePath {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrWorkspaceMismatch, meta.WorkspacePath, workspacePath)
	}

	if !stringSlicesEqual(meta.Analyzers, analyzerNames) {
		return fmt.Errorf("%w: checkpoint has %v, got %v", ErrAnalyzerMismatch, meta.Analyzers, analyzerNames)
	}

	return nil
}

// stringSlicesEqual compares two string slices for equality.
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
