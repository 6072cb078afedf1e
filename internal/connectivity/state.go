// Package connectivity decides whether the remote backend is reachable and
// owns the process-wide connection state shared by the domain stores.
package connectivity

import (
	"consentsync/internal/persistence"
	"strconv"
	"sync"
	"time"
)

type ConnectionStatus struct {
	IsConnected bool      `json:"isConnected"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// State holds the last probe result and the durable flag pair. The status
// is always replaced as a whole.
type State struct {
	mu      sync.RWMutex
	status  *ConnectionStatus
	durable *persistence.Store
}

func NewState(durable *persistence.Store) *State {
	return &State{durable: durable}
}

// Status returns the last recorded probe result, if any.
func (s *State) Status() (ConnectionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return ConnectionStatus{}, false
	}
	return *s.status, true
}

func (s *State) setStatus(st ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &st
}

func (s *State) clearStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = nil
}

// IsConnected reports the last known result; false until the first probe.
func (s *State) IsConnected() bool {
	st, ok := s.Status()
	return ok && st.IsConnected
}

func (s *State) IsOfflineMode() bool {
	return s.flag(persistence.ValueOfflineMode)
}

// SetOfflineMode persists the offline switch. Turning it on forgets the
// last probe so every caller sees the change immediately.
func (s *State) SetOfflineMode(on bool) {
	s.setFlag(persistence.ValueOfflineMode, on)
	s.clearStatus()
}

func (s *State) NetworkUnreachable() bool {
	return s.flag(persistence.ValueNetworkUnreachable)
}

func (s *State) setNetworkUnreachable(on bool) {
	s.setFlag(persistence.ValueNetworkUnreachable, on)
}

func (s *State) flag(key string) bool {
	v, ok := s.durable.GetValue(key)
	if !ok {
		return false
	}
	on, err := strconv.ParseBool(v)
	return err == nil && on
}

func (s *State) setFlag(key string, on bool) {
	if on {
		s.durable.SetValue(key, strconv.FormatBool(true))
		return
	}
	s.durable.DeleteValue(key)
}
