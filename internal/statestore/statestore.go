// Package statestore implements the state store (C3): persisting RunState
// to a frontmatter-annotated run.md, a sibling sessions.json for per-stage
// session handles, and append-only log lines. Every write goes through
// workspace.WriteAtomic, so a reader after a crash always observes either
// the last-committed state or the state before it — never a partial file
// (spec §4.3, invariant 5 of §8).
package statestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"shortsd/internal/model"
	"shortsd/internal/workspace"
)

const frontmatterDelim = "---"

// ErrSchemaMismatch is returned by Load when run.md's schema_version does
// not match model.CurrentSchemaVersion. Per DESIGN.md Open Question #1, a
// mismatch forces a fresh run rather than attempting reinterpretation.
var ErrSchemaMismatch = errors.New("statestore: schema version mismatch, fresh run required")

// ErrNoFrontmatter is returned when run.md lacks a well-formed frontmatter
// block.
var ErrNoFrontmatter = errors.New("statestore: run.md has no frontmatter block")

// Document is the full parsed content of run.md: the typed frontmatter plus
// the human-readable log body.
type Document struct {
	State model.RunState
	Body  string // log body, one entry per line
}

// Store wraps a single workspace's state files with a mutex serializing
// writes, mirroring the teacher's sync.RWMutex-guarded component pattern.
type Store struct {
	mu sync.Mutex
	ws *workspace.Workspace
}

// New creates a Store bound to a workspace.
func New(ws *workspace.Workspace) *Store {
	return &Store{ws: ws}
}

// Workspace returns the workspace this store is bound to.
func (s *Store) Workspace() *workspace.Workspace { return s.ws }

// Load reads and parses run.md. If the file does not exist, Load returns a
// zero Document and no error (a fresh run has no state yet).
func Load(ws *workspace.Workspace) (Document, error) {
	raw, err := os.ReadFile(ws.RunStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("statestore: read run.md: %w", err)
	}

	state, body, err := parse(raw)
	if err != nil {
		return Document{}, err
	}

	if state.SchemaVersion != 0 && state.SchemaVersion != model.CurrentSchemaVersion {
		return Document{}, ErrSchemaMismatch
	}

	return Document{State: state, Body: body}, nil
}

func parse(raw []byte) (model.RunState, string, error) {
	text := string(raw)
	if !strings.HasPrefix(text, frontmatterDelim) {
		return model.RunState{}, "", ErrNoFrontmatter
	}
	rest := strings.TrimPrefix(text, frontmatterDelim+"\n")
	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx < 0 {
		return model.RunState{}, "", ErrNoFrontmatter
	}
	fmBlock := rest[:idx]
	body := strings.TrimPrefix(rest[idx+len(frontmatterDelim)+1:], "\n")

	var state model.RunState
	if err := yaml.Unmarshal([]byte(fmBlock), &state); err != nil {
		return model.RunState{}, "", fmt.Errorf("statestore: parse frontmatter: %w", err)
	}
	return state, body, nil
}

func render(state model.RunState, body string) ([]byte, error) {
	fmBytes, err := yaml.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("statestore: marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim)
	buf.WriteString("\n")
	buf.Write(fmBytes)
	buf.WriteString(frontmatterDelim)
	buf.WriteString("\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// SaveAtomic persists state and the current log body atomically.
func (s *Store) SaveAtomic(state model.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.SchemaVersion == 0 {
		state.SchemaVersion = model.CurrentSchemaVersion
	}

	existing, err := Load(s.ws)
	if err != nil && !errors.Is(err, ErrSchemaMismatch) {
		return err
	}

	data, err := render(state, existing.Body)
	if err != nil {
		return err
	}
	return workspace.WriteAtomic(s.ws.RunStatePath(), data)
}

// AppendLog appends one human-readable log line to run.md's body, re-reading
// the current frontmatter so the append is consistent with the latest saved
// state. Both the frontmatter and the appended body are written together,
// atomically.
func (s *Store) AppendLog(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := Load(s.ws)
	if err != nil && !errors.Is(err, ErrSchemaMismatch) {
		return err
	}
	newBody := doc.Body
	if newBody != "" && !strings.HasSuffix(newBody, "\n") {
		newBody += "\n"
	}
	newBody += line + "\n"

	data, err := render(doc.State, newBody)
	if err != nil {
		return err
	}
	return workspace.WriteAtomic(s.ws.RunStatePath(), data)
}

// SessionStore persists per-stage SessionHandles to sessions.json.
type SessionStore struct {
	mu sync.Mutex
	ws *workspace.Workspace
}

// NewSessionStore creates a SessionStore bound to a workspace.
func NewSessionStore(ws *workspace.Workspace) *SessionStore {
	return &SessionStore{ws: ws}
}

// Load reads all session handles, keyed by stage name. Returns an empty map
// if the file does not yet exist.
func (s *SessionStore) Load() (map[model.Stage]model.SessionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SessionStore) loadLocked() (map[model.Stage]model.SessionHandle, error) {
	raw, err := os.ReadFile(s.ws.SessionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[model.Stage]model.SessionHandle{}, nil
		}
		return nil, fmt.Errorf("statestore: read sessions.json: %w", err)
	}
	var sessions map[model.Stage]model.SessionHandle
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("statestore: parse sessions.json: %w", err)
	}
	return sessions, nil
}

// Put records (or replaces) the session handle for a stage, atomically.
func (s *SessionStore) Put(handle model.SessionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadLocked()
	if err != nil {
		return err
	}
	sessions[handle.Stage] = handle

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal sessions.json: %w", err)
	}
	return workspace.WriteAtomic(s.ws.SessionsPath(), data)
}

// Get returns the session handle for a stage, if any.
func (s *SessionStore) Get(stage model.Stage) (model.SessionHandle, bool, error) {
	sessions, err := s.Load()
	if err != nil {
		return model.SessionHandle{}, false, err
	}
	h, ok := sessions[stage]
	return h, ok, nil
}
