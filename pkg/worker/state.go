package worker

import "sync"

// Phases of the worker loop.
const (
	PhaseIdle       = "idle"
	PhaseDequeuing  = "dequeuing"
	PhaseProcessing = "processing"
)

// State is the worker's observable state. It exists for introspection; the
// loop itself is driven by its context, not by flags.
type State struct {
	mu           sync.RWMutex
	phase        string
	currentRunID string
	processed    uint64
	failed       uint64
}

// NewState creates an idle state.
func NewState() *State {
	return &State{phase: PhaseIdle}
}

func (s *State) setPhase(phase, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.currentRunID = runID
}

func (s *State) recordOutcome(succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if succeeded {
		s.processed++
	} else {
		s.failed++
	}
}

// Snapshot reports the current phase, in-flight run and counters.
func (s *State) Snapshot() (phase, runID string, processed, failed uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.currentRunID, s.processed, s.failed
}
