// Package workspace implements the per-run workspace manager (C2): creating
// and isolating per-run directories, handing out typed artifact paths, and
// guaranteeing every write is atomic (write-temp + fsync + rename within the
// same directory).
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sentinel errors.
var (
	ErrEmptyRoot = errors.New("workspace: runs root must not be empty")
)

// subdirs are created under every run's workspace (§4.2).
var subdirs = []string{"assets", "segments", "veo3", "previews", "checkpoints"}

// Workspace is a single run's isolated directory, with typed path accessors.
// It never returns arbitrary strings — every accessor is named for the
// artifact it serves.
type Workspace struct {
	root   string // <runs>/<timestamp>-<short-run-id>/
	runID  string
}

// Manager creates and tracks per-run workspaces under a common root.
type Manager struct {
	runsRoot string
}

// NewManager creates a Manager rooted at runsRoot. The root is created if
// missing.
func NewManager(runsRoot string) (*Manager, error) {
	if runsRoot == "" {
		return nil, ErrEmptyRoot
	}
	if err := os.MkdirAll(runsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create runs root: %w", err)
	}
	return &Manager{runsRoot: runsRoot}, nil
}

// Create allocates a new workspace directory for runID, named
// <timestamp>-<short-run-id> per §4.2/§6.4.
func (m *Manager) Create(runID string, at time.Time) (*Workspace, error) {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	dirName := fmt.Sprintf("%d-%s", at.Unix(), short)
	root := filepath.Join(m.runsRoot, dirName)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create run dir: %w", err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create subdir %s: %w", sub, err)
		}
	}

	log.WithFields(log.Fields{"run_id": runID, "workspace": root}).Info("workspace created")

	return &Workspace{root: root, runID: runID}, nil
}

// Open reattaches to an existing workspace directory, for resume (§6.2
// --resume).
func Open(root, runID string) (*Workspace, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: %s is not a directory", root)
	}
	return &Workspace{root: root, runID: runID}, nil
}

// Root returns the workspace's root directory.
func (w *Workspace) Root() string { return w.root }

// RunID returns the workspace's owning run ID.
func (w *Workspace) RunID() string { return w.runID }

// RunStatePath returns the path to run.md (§6.4).
func (w *Workspace) RunStatePath() string { return filepath.Join(w.root, "run.md") }

// SessionsPath returns the path to sessions.json.
func (w *Workspace) SessionsPath() string { return filepath.Join(w.root, "sessions.json") }

// CommandHistoryPath returns the path to command-history.json (SPEC_FULL §C.1).
func (w *Workspace) CommandHistoryPath() string {
	return filepath.Join(w.root, "command-history.json")
}

// ElicitationContextPath returns the path to elicitation-context.json
// (SPEC_FULL §C.2).
func (w *Workspace) ElicitationContextPath() string {
	return filepath.Join(w.root, "elicitation-context.json")
}

// StageOutputPath returns the path for a stage's named output artifact.
func (w *Workspace) StageOutputPath(name string) string { return filepath.Join(w.root, name) }

// AssetsDir returns the assets/ subdirectory.
func (w *Workspace) AssetsDir() string { return filepath.Join(w.root, "assets") }

// SegmentsDir returns the segments/ subdirectory.
func (w *Workspace) SegmentsDir() string { return filepath.Join(w.root, "segments") }

// SegmentPath returns the path for segment-<NNN>.mp4.
func (w *Workspace) SegmentPath(index int) string {
	return filepath.Join(w.root, fmt.Sprintf("segment-%03d.mp4", index))
}

// Veo3Dir returns the veo3/ subdirectory for AI-generated asset downloads.
func (w *Workspace) Veo3Dir() string { return filepath.Join(w.root, "veo3") }

// PreviewsDir returns the previews/ subdirectory.
func (w *Workspace) PreviewsDir() string { return filepath.Join(w.root, "previews") }

// CheckpointsDir returns the checkpoints/ subdirectory.
func (w *Workspace) CheckpointsDir() string { return filepath.Join(w.root, "checkpoints") }

// FinalReelPath returns the path for final-reel.mp4.
func (w *Workspace) FinalReelPath() string { return filepath.Join(w.root, "final-reel.mp4") }

// EncodingPlanPath returns the path for encoding-plan.json.
func (w *Workspace) EncodingPlanPath() string { return filepath.Join(w.root, "encoding-plan.json") }

// CutawayManifestPath returns the path for cutaway-manifest.json.
func (w *Workspace) CutawayManifestPath() string {
	return filepath.Join(w.root, "cutaway-manifest.json")
}

// AssemblyReportPath returns the path for assembly-report.json.
func (w *Workspace) AssemblyReportPath() string {
	return filepath.Join(w.root, "assembly-report.json")
}

// WriteAtomic writes data to a named path within the workspace using the
// write-temp + fsync + rename discipline (§4.2 invariant). path must already
// be an absolute path produced by one of this workspace's accessors (or a
// path within one of its subdirectories) — WriteAtomic itself does not
// validate containment.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("workspace: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("workspace: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("workspace: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workspace: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("workspace: rename into place: %w", err)
	}
	return nil
}

// RandomSuffix returns a short random hex string, used by callers that need
// a unique temp-file or lock-token suffix outside WriteAtomic's own scheme.
func RandomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Delete removes the workspace entirely. Retention is the operator's
// concern (§4.2) — this is never called automatically by the pipeline.
func (w *Workspace) Delete() error {
	return os.RemoveAll(w.root)
}
