// Package mirror persists the full Local Store snapshot as a single named
// blob on local storage.
//
// The mirror is a cache, not a source of truth: it is read once at startup
// and rewritten after every mutation, and a successful pull from the remote
// gateway always supersedes whatever it holds.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/elevatehq/elevate/internal/model"
)

// DefaultName is the blob file name used when the caller does not pick one.
const DefaultName = "elevate-state.json"

// Mirror is the durable mirror contract used by the Local Store.
// The store is the single writer; Load is only called at startup.
type Mirror interface {
	// Load reads the persisted snapshot. The second return is false when no
	// blob exists yet (first run), which is not an error.
	Load() (model.Snapshot, bool, error)

	// Save rewrites the blob with the given snapshot.
	Save(model.Snapshot) error
}

// File stores the snapshot as a JSON blob at a fixed path.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated blob behind.
type File struct {
	path string
}

// NewFile returns a file mirror at the given path.
// An empty path defaults to DefaultName in the working directory.
func NewFile(path string) *File {
	if path == "" {
		path = DefaultName
	}
	return &File{path: path}
}

// Path returns the blob location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load() (model.Snapshot, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.NewSnapshot(), false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("read mirror %s: %w", f.path, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode mirror %s: %w", f.path, err)
	}
	ensureCollections(&snap)
	return snap, true, nil
}

func (f *File) Save(snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mirror-*")
	if err != nil {
		return fmt.Errorf("create mirror temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write mirror temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close mirror temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace mirror blob: %w", err)
	}
	return nil
}

// Memory is an in-process mirror for tests and ephemeral sessions.
type Memory struct {
	snap   model.Snapshot
	loaded bool

	// Saves counts Save calls, for write-through assertions in tests.
	Saves int
}

// NewMemory returns an empty in-process mirror.
func NewMemory() *Memory {
	return &Memory{}
}

// Seed preloads the mirror with a snapshot, as if a previous session had
// persisted it.
func (m *Memory) Seed(snap model.Snapshot) {
	m.snap = snap.Clone()
	m.loaded = true
}

func (m *Memory) Load() (model.Snapshot, bool, error) {
	if !m.loaded {
		return model.NewSnapshot(), false, nil
	}
	return m.snap.Clone(), true, nil
}

func (m *Memory) Save(snap model.Snapshot) error {
	m.snap = snap.Clone()
	m.loaded = true
	m.Saves++
	return nil
}

// ensureCollections allocates any nil maps or slices after decoding older
// or hand-edited blobs, so the store never has to nil-check them.
func ensureCollections(s *model.Snapshot) {
	if s.Goals == nil {
		s.Goals = make([]model.Goal, 0)
	}
	if s.Events == nil {
		s.Events = make([]model.CalendarEvent, 0)
	}
	if s.Journal == nil {
		s.Journal = make(map[string]string)
	}
	if s.Memos == nil {
		s.Memos = make(map[string]string)
	}
	if s.Scores == nil {
		s.Scores = make(map[string]int)
	}
	if s.Messages == nil {
		s.Messages = make([]model.ChatMessage, 0)
	}
}
