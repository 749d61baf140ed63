package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/pkg/agents"
	"github.com/stackboard/agentd/pkg/contextstore"
	"github.com/stackboard/agentd/pkg/core"
	"github.com/stackboard/agentd/pkg/events"
	"github.com/stackboard/agentd/pkg/executor"
	"github.com/stackboard/agentd/pkg/gateway"
	"github.com/stackboard/agentd/pkg/intake"
	"github.com/stackboard/agentd/pkg/queue"
	"github.com/stackboard/agentd/pkg/runstate"
)

// fakeCore implements CoreService in memory.
type fakeCore struct {
	mu          sync.Mutex
	cards       map[string]*core.Card
	projects    map[string]*core.Project
	runs        map[string]core.Run
	updates     map[string][]core.RunUpdate
	transitions []string
	failUpdate  bool
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		cards: map[string]*core.Card{
			"card-1": {ID: "card-1", ProjectID: "proj-1", Title: "Fix login", LaneName: "Doing", Status: "doing"},
		},
		projects: map[string]*core.Project{
			"proj-1": {ID: "proj-1", Name: "backend", WorkspaceName: "acme"},
		},
		runs:    map[string]core.Run{},
		updates: map[string][]core.RunUpdate{},
	}
}

func (f *fakeCore) GetCard(_ context.Context, id string) (*core.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cards[id]; ok {
		return c, nil
	}
	return nil, core.ErrNotFound
}

func (f *fakeCore) GetProject(_ context.Context, id string) (*core.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, core.ErrNotFound
}

func (f *fakeCore) CreateRun(_ context.Context, run core.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeCore) UpdateRun(_ context.Context, runID string, update core.RunUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return errors.New("core down")
	}
	f.updates[runID] = append(f.updates[runID], update)
	return nil
}

func (f *fakeCore) TransitionCard(_ context.Context, cardID, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, cardID+":"+state)
	return nil
}

func (f *fakeCore) lastUpdate(runID string) (core.RunUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	updates := f.updates[runID]
	if len(updates) == 0 {
		return core.RunUpdate{}, false
	}
	return updates[len(updates)-1], true
}

// fakeExecutor returns a scripted outcome or error.
type fakeExecutor struct {
	mu       sync.Mutex
	outcome  *executor.Outcome
	err      error
	requests []executor.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (*executor.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Emit(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type failingSink struct{}

func (failingSink) Name() string                              { return "failing" }
func (failingSink) Emit(context.Context, events.Event) error  { return errors.New("sink down") }
func (failingSink) Close() error                              { return nil }

type workerFixture struct {
	worker   *Worker
	queue    *queue.MemoryQueue
	core     *fakeCore
	executor *fakeExecutor
	store    *runstate.Store
	registry *runstate.Registry
	sink     *recordingSink
	tasklog  *contextstore.TaskLog
}

func newFixture(t *testing.T, mutate func(*Options)) *workerFixture {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	registry, err := agents.NewRegistry([]config.AgentConfig{
		{ID: "coder", Name: "Coder", Provider: "stub", Model: "stub-model"},
	}, "", logger)
	require.NoError(t, err)

	tasklog, err := contextstore.NewTaskLog(t.TempDir())
	require.NoError(t, err)

	fx := &workerFixture{
		queue: queue.NewMemoryQueue(),
		core:  newFakeCore(),
		executor: &fakeExecutor{outcome: &executor.Outcome{
			Content: "done", Provider: "stub", Model: "stub-model",
			Usage:      gateway.Usage{InputTokens: 100, OutputTokens: 40, ProviderCost: 0.01, BilledAmount: 0.012},
			ToolsUsed:  []string{"read_file"},
			Iterations: 2,
		}},
		store:    runstate.NewStore(),
		registry: runstate.NewRegistry(),
		sink:     &recordingSink{},
		tasklog:  tasklog,
	}
	t.Cleanup(func() {
		fx.queue.Close()
		fx.store.Close()
	})

	opts := Options{
		Queue:    fx.queue,
		Agents:   registry,
		Core:     fx.core,
		Executor: fx.executor,
		Store:    fx.store,
		Registry: fx.registry,
		TaskLog:  fx.tasklog,
		Outbox:   events.NewOutbox(logger, fx.sink),
		Config:   Config{QueueName: "agent-executions", PollTimeout: 10 * time.Millisecond, IdleSleep: 5 * time.Millisecond},
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	w, err := New(opts)
	require.NoError(t, err)
	fx.worker = w
	return fx
}

func (fx *workerFixture) run(t *testing.T, task intake.Task) {
	t.Helper()
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, fx.queue.Push(context.Background(), "agent-executions", payload))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.worker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		depth, _ := fx.queue.Depth(context.Background(), "agent-executions")
		_, runID, processed, failed := fx.worker.State().Snapshot()
		return depth == 0 && runID == "" && processed+failed > 0
	}, 5*time.Second, 10*time.Millisecond, "task never processed")

	cancel()
	<-done
}

func task() intake.Task {
	return intake.Task{
		RunID: "run-1",
		Request: intake.Request{
			CardID: "card-1", AgentID: "coder", UserID: "u1", WorkspaceID: "w1",
		},
	}
}

func TestWorkerSuccessPath(t *testing.T) {
	fx := newFixture(t, nil)
	fx.run(t, task())

	// Durable run record created then completed with aggregated usage.
	require.Contains(t, fx.core.runs, "run-1")
	update, ok := fx.core.lastUpdate("run-1")
	require.True(t, ok)
	assert.Equal(t, "completed", update.Status)
	require.NotNil(t, update.InputTokens)
	assert.Equal(t, 100, *update.InputTokens)
	assert.Equal(t, []string{"read_file"}, update.ToolsUsed)

	// Card moved to running then review.
	assert.Equal(t, []string{"card-1:running", "card-1:review"}, fx.core.transitions)

	// Run status terminal, no state leak.
	status, ok := fx.store.GetRunStatus("run-1")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusCompleted, status.Status)
	_, ok = fx.store.GetAgentState("run-1")
	assert.False(t, ok)
	assert.Zero(t, fx.registry.Len())

	// Events: started, billing, completed, agent_complete.
	kinds := fx.sink.kinds()
	assert.Contains(t, kinds, events.KindRunStarted)
	assert.Contains(t, kinds, events.KindBillingUsage)
	assert.Contains(t, kinds, events.KindRunCompleted)
	assert.Contains(t, kinds, events.KindAgentComplete)

	// Completion written to the task log.
	raw, err := fx.tasklog.ReadContext("card-1")
	require.NoError(t, err)
	assert.Contains(t, raw, "done")
}

func TestWorkerFatalContextError(t *testing.T) {
	fx := newFixture(t, nil)

	missing := task()
	missing.CardID = "card-ghost"
	fx.run(t, missing)

	status, ok := fx.store.GetRunStatus("run-1")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusFailed, status.Status)
	assert.Contains(t, status.Message, "card not found")

	// Executor never invoked; cleanup still ran.
	assert.Empty(t, fx.executor.requests)
	_, ok = fx.store.GetAgentState("run-1")
	assert.False(t, ok)
	assert.Zero(t, fx.registry.Len())

	update, ok := fx.core.lastUpdate("run-1")
	require.True(t, ok)
	assert.Equal(t, "failed", update.Status)
}

func TestWorkerExecutorFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.executor.err = errors.New("gateway call failed after 3 attempts")
	fx.run(t, task())

	status, ok := fx.store.GetRunStatus("run-1")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusFailed, status.Status)

	_, ok = fx.store.GetAgentState("run-1")
	assert.False(t, ok)
	assert.Zero(t, fx.registry.Len())
	assert.Contains(t, fx.sink.kinds(), events.KindRunFailed)
}

func TestWorkerSideChannelIsolation(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	fx := newFixture(t, func(opts *Options) {
		opts.Outbox = events.NewOutbox(logger, failingSink{})
	})
	fx.run(t, task())

	// All sinks down; the run still completes.
	status, ok := fx.store.GetRunStatus("run-1")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusCompleted, status.Status)
}

func TestWorkerMalformedPayload(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.queue.Push(context.Background(), "agent-executions", []byte("not json")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.worker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		depth, _ := fx.queue.Depth(context.Background(), "agent-executions")
		return depth == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Empty(t, fx.executor.requests)
	assert.Zero(t, fx.registry.Len())
}

func TestWorkerConversationMode(t *testing.T) {
	fx := newFixture(t, nil)

	require.NoError(t, fx.tasklog.InitializeContext("card-1", "Fix login", "Coder"))
	require.NoError(t, fx.tasklog.LogHumanMessage("card-1", "please also update the tests"))

	conv := task()
	conv.Mode = "conversation"
	fx.run(t, conv)

	require.Len(t, fx.executor.requests, 1)
	assert.Equal(t, "conversation", fx.executor.requests[0].Context.Mode())
}

func TestWorkerStandardModeInstructions(t *testing.T) {
	fx := newFixture(t, nil)

	require.NoError(t, fx.tasklog.InitializeContext("card-1", "Fix login", "Coder"))
	fx.run(t, task())

	require.Len(t, fx.executor.requests, 1)
	assert.Equal(t, "standard", fx.executor.requests[0].Context.Mode())
}

func TestSweeper(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	store := runstate.NewStore()
	defer store.Close()
	registry := runstate.NewRegistry()

	s, err := NewSweeper(registry, store, "@every 10m", logger)
	require.NoError(t, err)

	stale := runstate.ActiveRun{RunID: "run-old", AgentID: "coder", StartTime: time.Now().Add(-3 * time.Hour)}
	fresh := runstate.ActiveRun{RunID: "run-new", AgentID: "coder", StartTime: time.Now()}
	registry.Add(stale)
	registry.Add(fresh)
	store.PutAgentState(runstate.AgentState{RunID: "run-old", Status: runstate.StatusRunning})

	s.Sweep()

	assert.Equal(t, 1, registry.Len())
	_, ok := store.GetAgentState("run-old")
	assert.False(t, ok)

	status, ok := store.GetRunStatus("run-old")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusFailed, status.Status)
	assert.Contains(t, status.Message, "reclaimed")

	_, ok = store.GetRunStatus("run-new")
	assert.False(t, ok)
}

func TestSweeperInvalidSchedule(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	_, err := NewSweeper(runstate.NewRegistry(), runstate.NewStore(), "not a schedule", logger)
	assert.Error(t, err)
}
