// Package store persists per-project and per-user state on disk: JSON for
// objects, JSON Lines for append-only logs, Markdown for distilled maps.
// Writers use flock-guarded read-modify-write; append-only logs take a
// single-writer append lock per file.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"projectos/internal/paths"
	"projectos/internal/types"
)

// Well-known state file names.
const (
	FileProjectState   = "project_state.json"
	FileFactsRaw       = "facts_raw.jsonl"
	FileFactsMap       = "facts_map.md"
	FileUnderstanding  = "understanding.json"
	FileActiveObject   = "active_object.json"
	FileAuditLog       = "audit_log.jsonl"
	FileChatLog        = "chat_log.jsonl"
	FileDecisions      = "decisions.json"
	FileDecisionCands  = "decision_candidates.json"
	FileUploadNotes    = "upload_notes.json"
	FileCapabilityGaps = "capability_gaps.json"

	FileUserProfile    = "profile.json"
	FileUserFactsRaw   = "facts_raw.jsonl"
	FileUserGlobalMap  = "global_facts_map.json"
	FileUserPolicies   = "memory_policies.json"
	FileCouplesLinks   = "couples_links.json"
	FileBringupQueue   = "bringup_queue.jsonl"
	FilePendingProfile = "pending_profile_question.json"
)

// Store is the on-disk project/user state store rooted at BaseDir.
type Store struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a store rooted at baseDir.
func New(baseDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{baseDir: baseDir, logger: logger}
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// ProjectStateDir returns projects/<user>/<project>/state, sanitized.
func (s *Store) ProjectStateDir(user, project string) string {
	return filepath.Join(s.baseDir,
		paths.SanitizeProjectPath(user),
		paths.SanitizeProjectPath(project),
		"state")
}

// UserDir returns projects/<user>/_user, sanitized.
func (s *Store) UserDir(user string) string {
	return filepath.Join(s.baseDir, paths.SanitizeProjectPath(user), "_user")
}

// ListProjects returns a user's project directory names, sorted, skipping
// the _user segment.
func (s *Store) ListProjects(user string) []string {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, paths.SanitizeProjectPath(user)))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "_user" {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// ProjectFile returns the path of a named state file for a project.
func (s *Store) ProjectFile(user, project, name string) string {
	return filepath.Join(s.ProjectStateDir(user, project), name)
}

// UserFile returns the path of a named per-user file.
func (s *Store) UserFile(user, name string) string {
	return filepath.Join(s.UserDir(user), name)
}

// =============================================================================
// JSON OBJECTS (read-modify-write under flock)
// =============================================================================

// ReadJSON loads a JSON object file into v. A missing file leaves v untouched
// and returns os.ErrNotExist.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// withLock runs fn while holding the flock for path.
func withLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", filepath.Base(path), err)
	}
	defer lock.Unlock()
	return fn()
}

// =============================================================================
// PROJECT STATE
// =============================================================================

// LoadState reads the project state, creating a fresh one on first access.
// Projects are never destroyed by the core.
func (s *Store) LoadState(user, project string) (*types.ProjectState, error) {
	path := s.ProjectFile(user, project, FileProjectState)
	state := newProjectState()
	err := ReadJSON(path, state)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState persists the project state.
func (s *Store) SaveState(user, project string, state *types.ProjectState) error {
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.ProjectFile(user, project, FileProjectState), state)
}

// UpdateState applies fn to the project state under the state-file lock.
// The deterministic merge discipline: readers of stale copies lose.
func (s *Store) UpdateState(user, project string, fn func(*types.ProjectState) error) (*types.ProjectState, error) {
	path := s.ProjectFile(user, project, FileProjectState)
	var out *types.ProjectState
	err := withLock(path, func() error {
		state, err := s.LoadState(user, project)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		out = state
		return s.SaveState(user, project, state)
	})
	return out, err
}

func newProjectState() *types.ProjectState {
	return &types.ProjectState{
		ProjectMode:     types.ModeOpenWorld,
		BootstrapStatus: types.BootstrapNeedsGoal,
		Domains:         []string{},
		UserRules:       []string{},
	}
}

// =============================================================================
// APPEND-ONLY JSONL
// =============================================================================

// AppendJSONL appends one JSON record to a JSON Lines file under the file's
// append lock.
func AppendJSONL(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return withLock(path, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(data, '\n'))
		return err
	})
}

// ReadJSONLLines invokes fn for every line of a JSON Lines file. A missing
// file is not an error; lines whose fn returns an error are skipped.
func ReadJSONLLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			continue
		}
	}
	return scanner.Err()
}

// CountLines returns the record count of a JSONL file (0 when missing).
func CountLines(path string) int {
	n := 0
	_ = ReadJSONLLines(path, func([]byte) error {
		n++
		return nil
	})
	return n
}

// ReplaceJSONL atomically rewrites a JSONL file with the given records.
// Used only by normalization, which writes a new file version.
func ReplaceJSONL(path string, records []interface{}) error {
	return withLock(path, func() error {
		tmp := path + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				f.Close()
				return err
			}
			w.Write(data)
			w.WriteByte('\n')
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
}

// =============================================================================
// PLAIN TEXT (markdown maps)
// =============================================================================

// WriteText atomically writes a text file, creating parent directories.
func WriteText(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadText reads a text file, "" when missing.
func ReadText(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// =============================================================================
// CHAT LOG
// =============================================================================

// ChatRecord is one persisted chat turn.
type ChatRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	TurnIndex int    `json:"turn_index"`
	Timestamp string `json:"timestamp"`
}

// AppendChat persists one chat message, best-effort.
func (s *Store) AppendChat(user, project, role, content string, turn int) {
	rec := ChatRecord{
		Role:      role,
		Content:   content,
		TurnIndex: turn,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := AppendJSONL(s.ProjectFile(user, project, FileChatLog), rec); err != nil {
		s.logger.Warn("chat log append failed", zap.Error(err))
	}
}
