// Package seen persists notification watermarks, i.e. which market
// resolutions and claims have already been announced, to a local JSON file.
// It never
// stores derived numbers; every report is still a full re-scan.
package seen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// state is the on-disk shape.
type state struct {
	ResolvedMarkets map[string]int64 `json:"resolved_markets"` // market → first-seen timestamp
	Claims          map[string]int64 `json:"claims"`           // claim key → timestamp
}

// Store is a file-backed set of already-announced events. Safe for use from
// a single poller goroutine plus Flush from shutdown.
type Store struct {
	path  string
	mu    sync.Mutex
	state state
	dirty bool
}

// Open loads the store from path, starting empty if the file does not exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		state: state{
			ResolvedMarkets: make(map[string]int64),
			Claims:          make(map[string]int64),
		},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("seen: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("seen: parse %s: %w", path, err)
	}
	if s.state.ResolvedMarkets == nil {
		s.state.ResolvedMarkets = make(map[string]int64)
	}
	if s.state.Claims == nil {
		s.state.Claims = make(map[string]int64)
	}
	return s, nil
}

// MarkResolved records a market resolution, reporting whether it was new.
func (s *Store) MarkResolved(market string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.ResolvedMarkets[market]; ok {
		return false
	}
	s.state.ResolvedMarkets[market] = ts
	s.dirty = true
	return true
}

// MarkClaim records a claim event key, reporting whether it was new.
func (s *Store) MarkClaim(key string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Claims[key]; ok {
		return false
	}
	s.state.Claims[key] = ts
	s.dirty = true
	return true
}

// Flush writes the state to disk atomically (write-temp-then-rename). A
// no-op when nothing changed since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("seen: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("seen: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("seen: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("seen: rename: %w", err)
	}
	s.dirty = false
	return nil
}
