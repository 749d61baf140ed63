// Package runstate holds the ephemeral state of in-flight runs: AgentState
// snapshots and RunStatus records guarded by TTLs, plus the ActiveRuns
// registry used for introspection. Durable run records live in the core
// service; everything here may be rebuilt from scratch after a restart.
package runstate

import (
	"encoding/json"
	"sync"
	"time"
)

// Run lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Default TTLs. A crashed worker cannot clean up after itself, so both
// record kinds expire on their own.
const (
	AgentStateTTL = 2 * time.Hour
	RunStatusTTL  = 24 * time.Hour
)

// AgentState is the snapshot of one executing run.
type AgentState struct {
	RunID     string          `json:"run_id"`
	AgentID   string          `json:"agent_id"`
	CardID    string          `json:"card_id"`
	Mode      string          `json:"mode"`
	Context   json.RawMessage `json:"context,omitempty"`
	Status    string          `json:"status"`
	StartTime time.Time       `json:"start_time"`
}

// RunStatus is the externally visible status of a run.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Store is an in-memory key-value store with per-key TTL.
type Store struct {
	mu      sync.RWMutex
	states  map[string]entry // runID -> AgentState
	status  map[string]entry // runID -> RunStatus
	stop    chan struct{}
	stopped bool
}

// NewStore creates a store and starts its expiry janitor.
func NewStore() *Store {
	s := &Store{
		states: make(map[string]entry),
		status: make(map[string]entry),
		stop:   make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.states {
		if now.After(e.expiresAt) {
			delete(s.states, k)
		}
	}
	for k, e := range s.status {
		if now.After(e.expiresAt) {
			delete(s.status, k)
		}
	}
}

// PutAgentState stores the snapshot for a run with the default state TTL.
func (s *Store) PutAgentState(state AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RunID] = entry{value: state, expiresAt: time.Now().Add(AgentStateTTL)}
}

// GetAgentState returns the snapshot for a run, if present and unexpired.
func (s *Store) GetAgentState(runID string) (AgentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.states[runID]
	if !ok || time.Now().After(e.expiresAt) {
		return AgentState{}, false
	}
	return e.value.(AgentState), true
}

// DeleteAgentState removes the snapshot for a run.
func (s *Store) DeleteAgentState(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, runID)
}

// SetRunStatus records the current status of a run with the status TTL.
func (s *Store) SetRunStatus(runID, status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[runID] = entry{
		value: RunStatus{
			RunID:     runID,
			Status:    status,
			Message:   message,
			UpdatedAt: time.Now().UTC(),
		},
		expiresAt: time.Now().Add(RunStatusTTL),
	}
}

// GetRunStatus returns the status record for a run, if present and unexpired.
func (s *Store) GetRunStatus(runID string) (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.status[runID]
	if !ok || time.Now().After(e.expiresAt) {
		return RunStatus{}, false
	}
	return e.value.(RunStatus), true
}

// Close stops the expiry janitor.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}
