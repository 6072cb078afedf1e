package persistence

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/atomic"
)

const SnapshotVersion = 1

// Durable slots.
const (
	KeyStudioConfig     = "studio-config"
	KeyActiveConsents   = "active-consents"
	KeyArchivedConsents = "archived-consents"

	ValueConfigID           = "config-id"
	ValueOfflineMode        = "offline-mode"
	ValueNetworkUnreachable = "network-unreachable"
)

// Entry is one cached value with its lifetime. Value holds the JSON encoding
// of the cached object.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Value = append(json.RawMessage(nil), e.Value...)
	return &out
}

type Snapshot struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
	Values  map[string]string `json:"values"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		Entries: make(map[string]*Entry),
		Values:  make(map[string]string),
	}
}

// Store holds the durable tier in memory between flushes. Every write bumps
// a revision so the scheduler can skip clean snapshots.
type Store struct {
	mu    sync.RWMutex
	snap  *Snapshot
	rev   atomic.Uint64
	saved atomic.Uint64
}

func NewEmptyStore() *Store {
	return &Store{snap: NewSnapshot()}
}

func (s *Store) touch() {
	s.rev.Inc()
}

func (s *Store) GetEntry(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snap.Entries[key]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

func (s *Store) PutEntry(key string, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Entries[key] = e.clone()
	s.touch()
}

func (s *Store) DeleteEntry(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Entries[key]; ok {
		delete(s.snap.Entries, key)
		s.touch()
	}
}

func (s *Store) ClearEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Entries = make(map[string]*Entry)
	s.touch()
}

func (s *Store) GetValue(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Values[key]
	return v, ok
}

func (s *Store) SetValue(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snap.Values[key]; ok && cur == value {
		return
	}
	s.snap.Values[key] = value
	s.touch()
}

func (s *Store) DeleteValue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Values[key]; ok {
		delete(s.snap.Values, key)
		s.touch()
	}
}

// Snapshot returns a deep copy of the current state and the revision it reflects.
func (s *Store) Snapshot() (*Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewSnapshot()
	for k, e := range s.snap.Entries {
		out.Entries[k] = e.clone()
	}
	for k, v := range s.snap.Values {
		out.Values[k] = v
	}
	return out, s.rev.Load()
}

// Replace installs a loaded snapshot. The store is considered clean afterwards.
func (s *Store) Replace(snap *Snapshot) {
	if snap.Entries == nil {
		snap.Entries = make(map[string]*Entry)
	}
	if snap.Values == nil {
		snap.Values = make(map[string]string)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.saved.Store(s.rev.Load())
}

func (s *Store) Dirty() bool {
	return s.rev.Load() != s.saved.Load()
}

func (s *Store) MarkSaved(rev uint64) {
	s.saved.Store(rev)
}
