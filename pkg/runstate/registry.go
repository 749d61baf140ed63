package runstate

import (
	"sort"
	"sync"
	"time"

	"github.com/stackboard/agentd/internal/observability"
)

// ActiveRun describes one run currently being processed by the worker.
type ActiveRun struct {
	RunID     string    `json:"run_id"`
	AgentID   string    `json:"agent_id"`
	CardID    string    `json:"card_id"`
	StartTime time.Time `json:"start_time"`
}

// Registry tracks the set of in-flight runs. Entries carry no TTL; the
// worker removes them on every terminal path and the reconciliation sweep
// catches anything orphaned by a crash.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]ActiveRun
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]ActiveRun)}
}

// Add records a run as active.
func (r *Registry) Add(run ActiveRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	observability.SetActiveRuns(len(r.runs))
}

// Remove drops a run from the registry. Removing an absent run is a no-op.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	observability.SetActiveRuns(len(r.runs))
}

// List returns the active runs ordered by start time.
func (r *Registry) List() []ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]ActiveRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs
}

// StartedBefore returns the active runs whose start time is older than the
// cutoff. Used by the reconciliation sweep to find stuck runs.
func (r *Registry) StartedBefore(cutoff time.Time) []ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []ActiveRun
	for _, run := range r.runs {
		if run.StartTime.Before(cutoff) {
			stale = append(stale, run)
		}
	}
	return stale
}

// Len reports the number of active runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
