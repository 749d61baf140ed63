package runstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAgentState(t *testing.T) {
	s := NewStore()
	defer s.Close()

	t.Run("should round-trip a snapshot", func(t *testing.T) {
		state := AgentState{
			RunID:     "run-1",
			AgentID:   "reviewer",
			CardID:    "card-42",
			Mode:      "standard",
			Context:   json.RawMessage(`{"messages":[]}`),
			Status:    StatusRunning,
			StartTime: time.Now().UTC(),
		}
		s.PutAgentState(state)

		got, ok := s.GetAgentState("run-1")
		require.True(t, ok)
		assert.Equal(t, state.AgentID, got.AgentID)
		assert.Equal(t, state.CardID, got.CardID)
		assert.JSONEq(t, `{"messages":[]}`, string(got.Context))
	})

	t.Run("should miss on unknown run", func(t *testing.T) {
		_, ok := s.GetAgentState("run-nope")
		assert.False(t, ok)
	})

	t.Run("should delete a snapshot", func(t *testing.T) {
		s.PutAgentState(AgentState{RunID: "run-del", Status: StatusRunning})
		s.DeleteAgentState("run-del")

		_, ok := s.GetAgentState("run-del")
		assert.False(t, ok)
	})

	t.Run("should tolerate deleting an absent snapshot", func(t *testing.T) {
		s.DeleteAgentState("run-absent")
	})
}

func TestStoreRunStatus(t *testing.T) {
	s := NewStore()
	defer s.Close()

	t.Run("should record the latest status", func(t *testing.T) {
		s.SetRunStatus("run-1", StatusRunning, "")
		s.SetRunStatus("run-1", StatusFailed, "gateway timeout")

		got, ok := s.GetRunStatus("run-1")
		require.True(t, ok)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "gateway timeout", got.Message)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("should outlive agent state deletion", func(t *testing.T) {
		s.PutAgentState(AgentState{RunID: "run-2", Status: StatusRunning})
		s.SetRunStatus("run-2", StatusCompleted, "")
		s.DeleteAgentState("run-2")

		_, ok := s.GetAgentState("run-2")
		assert.False(t, ok)

		status, ok := s.GetRunStatus("run-2")
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, status.Status)
	})
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.PutAgentState(AgentState{RunID: "run-1", Status: StatusRunning})
	s.SetRunStatus("run-1", StatusRunning, "")

	// Past the state TTL but inside the status TTL.
	s.sweep(time.Now().Add(AgentStateTTL + time.Minute))

	_, ok := s.GetAgentState("run-1")
	assert.False(t, ok, "agent state should expire after its TTL")

	_, ok = s.GetRunStatus("run-1")
	assert.True(t, ok, "run status should survive the state TTL")

	// Past both TTLs.
	s.sweep(time.Now().Add(RunStatusTTL + time.Minute))

	_, ok = s.GetRunStatus("run-1")
	assert.False(t, ok, "run status should expire after its TTL")
}

func TestRegistry(t *testing.T) {
	t.Run("should list runs ordered by start time", func(t *testing.T) {
		r := NewRegistry()
		now := time.Now()

		r.Add(ActiveRun{RunID: "run-b", AgentID: "coder", StartTime: now.Add(time.Second)})
		r.Add(ActiveRun{RunID: "run-a", AgentID: "reviewer", StartTime: now})

		runs := r.List()
		require.Len(t, runs, 2)
		assert.Equal(t, "run-a", runs[0].RunID)
		assert.Equal(t, "run-b", runs[1].RunID)
	})

	t.Run("should remove runs on terminal paths", func(t *testing.T) {
		r := NewRegistry()
		r.Add(ActiveRun{RunID: "run-1", StartTime: time.Now()})
		r.Remove("run-1")
		r.Remove("run-1") // idempotent

		assert.Zero(t, r.Len())
		assert.Empty(t, r.List())
	})

	t.Run("should find runs older than a cutoff", func(t *testing.T) {
		r := NewRegistry()
		now := time.Now()

		r.Add(ActiveRun{RunID: "run-old", StartTime: now.Add(-2 * time.Hour)})
		r.Add(ActiveRun{RunID: "run-new", StartTime: now})

		stale := r.StartedBefore(now.Add(-time.Hour))
		require.Len(t, stale, 1)
		assert.Equal(t, "run-old", stale[0].RunID)
	})
}
