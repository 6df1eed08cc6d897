// Package localstate persists the per-machine inbox state that outlives a
// session: hidden conversation keys and per-conversation read watermarks.
//
// State is one JSON file per account under the user config directory.
// Disable persistence with MAGPIPE_NO_STATE=1.
package localstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type fileState struct {
	Hidden     []string             `json:"hidden,omitempty"`
	Watermarks map[string]time.Time `json:"watermarks,omitempty"`
}

// Store reads and writes one account's local inbox state.
type Store struct {
	mu         sync.Mutex
	path       string
	hidden     map[string]struct{}
	watermarks map[string]time.Time
}

// Open loads the state file for accountID, creating empty state when the
// file does not exist yet.
func Open(dir, accountID string) (*Store, error) {
	s := &Store{
		path:       filepath.Join(dir, fmt.Sprintf("state_%s.json", sanitize(accountID))),
		hidden:     make(map[string]struct{}),
		watermarks: make(map[string]time.Time),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", s.path, err)
	}
	for _, key := range fs.Hidden {
		s.hidden[key] = struct{}{}
	}
	for key, at := range fs.Watermarks {
		s.watermarks[key] = at
	}
	return s, nil
}

// DefaultDir returns "$XDG_CONFIG_HOME/magpipe" or equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "magpipe"), nil
}

// Hidden returns a snapshot of the hidden conversation keys.
func (s *Store) Hidden() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.hidden))
	for k := range s.hidden {
		out[k] = struct{}{}
	}
	return out
}

func (s *Store) Hide(key string) error {
	s.mu.Lock()
	s.hidden[key] = struct{}{}
	s.mu.Unlock()
	return s.save()
}

func (s *Store) Unhide(key string) error {
	s.mu.Lock()
	delete(s.hidden, key)
	s.mu.Unlock()
	return s.save()
}

// Watermark returns the last-viewed time for a conversation key. The zero
// time means the conversation was never viewed on this machine.
func (s *Store) Watermark(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[key]
}

// SetWatermark advances the watermark for key. Watermarks never move
// backwards; a stale value is ignored.
func (s *Store) SetWatermark(key string, at time.Time) error {
	s.mu.Lock()
	if existing, ok := s.watermarks[key]; ok && !at.After(existing) {
		s.mu.Unlock()
		return nil
	}
	s.watermarks[key] = at
	s.mu.Unlock()
	return s.save()
}

// Forget drops all state for a conversation key (used on delete).
func (s *Store) Forget(key string) error {
	s.mu.Lock()
	delete(s.hidden, key)
	delete(s.watermarks, key)
	s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	if disabled() {
		return nil
	}
	s.mu.Lock()
	fs := fileState{
		Hidden:     make([]string, 0, len(s.hidden)),
		Watermarks: make(map[string]time.Time, len(s.watermarks)),
	}
	for k := range s.hidden {
		fs.Hidden = append(fs.Hidden, k)
	}
	// Sorted so the file is byte-stable across writes of the same state.
	sort.Strings(fs.Hidden)
	for k, at := range s.watermarks {
		fs.Watermarks[k] = at
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	// Write temp then rename so readers never see a partial file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func disabled() bool {
	return os.Getenv("MAGPIPE_NO_STATE") != ""
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "default"
	}
	id = strings.ReplaceAll(id, "/", "-")
	id = strings.ReplaceAll(id, "\\", "-")
	return id
}
