package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/pkg/runstate"
)

// Sweeper periodically reclaims runs whose worker died mid-flight: active
// registry entries older than the agent-state TTL whose cleanup never ran.
type Sweeper struct {
	registry   *runstate.Registry
	store      *runstate.Store
	staleAfter time.Duration
	cron       *cron.Cron
	logger     zerolog.Logger
}

// NewSweeper schedules a reconciliation sweep on the given cron spec
// (for example "@every 10m").
func NewSweeper(registry *runstate.Registry, store *runstate.Store, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		registry:   registry,
		store:      store,
		staleAfter: runstate.AgentStateTTL,
		cron:       cron.New(),
		logger:     logger.With().Str("component", "sweeper").Logger(),
	}

	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Reconciliation sweeper started")
}

// Stop halts the schedule, waiting for a sweep in progress.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Reconciliation sweeper stopped")
}

// Sweep reclaims stale active runs. Exported so operators can trigger it.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.staleAfter)
	stale := s.registry.StartedBefore(cutoff)

	for _, run := range stale {
		s.logger.Warn().
			Str("run_id", run.RunID).
			Time("started_at", run.StartTime).
			Msg("Reclaiming stale active run")

		s.registry.Remove(run.RunID)
		s.store.DeleteAgentState(run.RunID)
		s.store.SetRunStatus(run.RunID, runstate.StatusFailed, "reclaimed by reconciliation sweep")
	}

	if len(stale) > 0 {
		observability.RecordSweepReclaimed(len(stale))
		s.logger.Info().Int("reclaimed", len(stale)).Msg("Reconciliation sweep finished")
	}
}
