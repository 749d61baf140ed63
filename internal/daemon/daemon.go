package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/logger"
	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/internal/tracing"
	"github.com/stackboard/agentd/pkg/agents"
	"github.com/stackboard/agentd/pkg/contextstore"
	"github.com/stackboard/agentd/pkg/core"
	"github.com/stackboard/agentd/pkg/events"
	"github.com/stackboard/agentd/pkg/executor"
	"github.com/stackboard/agentd/pkg/gateway"
	"github.com/stackboard/agentd/pkg/intake"
	"github.com/stackboard/agentd/pkg/queue"
	"github.com/stackboard/agentd/pkg/runstate"
	"github.com/stackboard/agentd/pkg/tools"
	"github.com/stackboard/agentd/pkg/worker"
)

// Daemon wires the execution pipeline together: the intake HTTP server feeds
// the durable queue, the worker drains it, and the run state store and event
// outbox expose what happened.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Pipeline
	queue        queue.Queue
	coreClient   *core.Client
	gateways     map[string]gateway.Gateway
	toolRegistry *tools.Registry
	tasklog      *contextstore.TaskLog
	cards        *contextstore.CardStore
	outbox       *events.Outbox
	agentsReg    *agents.Registry
	agentWatcher *agents.Watcher
	store        *runstate.Store
	registry     *runstate.Registry
	intake       *intake.Intake
	executor     *executor.Executor
	worker       *worker.Worker
	sweeper      *worker.Sweeper

	// Services
	admin     *AdminServer
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon instance from a validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("agentd"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initializePipeline(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	d.admin = NewAdminServer(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializePipeline builds the pipeline components in dependency order.
func (d *Daemon) initializePipeline() error {
	zlog := d.logger.GetZerolog()

	// Queue backend, wrapped fail-soft so a backend outage degrades intake
	// instead of crashing the daemon.
	var backend queue.Queue
	switch d.config.Queue.Driver {
	case "memory":
		backend = queue.NewMemoryQueue()
	default:
		q, err := queue.NewSQLiteQueue(d.config.Queue.Path)
		if err != nil {
			return fmt.Errorf("failed to open queue database: %w", err)
		}
		backend = q
	}
	d.queue = queue.FailSoft(backend, zlog)
	d.logger.Info().Str("driver", d.config.Queue.Driver).Msg("Queue initialized")

	coreClient, err := core.NewClient(core.Config{
		BaseURL: d.config.Core.BaseURL,
		Token:   d.config.Core.Token,
		Timeout: time.Duration(d.config.Core.Timeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create core client: %w", err)
	}
	d.coreClient = coreClient
	d.logger.Info().Str("base_url", d.config.Core.BaseURL).Msg("Core client initialized")

	d.gateways = make(map[string]gateway.Gateway, len(d.config.AI.Profiles))
	for _, profile := range d.config.AI.Profiles {
		gw, err := gateway.New(profile, d.config.AI.BilledMultiplier)
		if err != nil {
			return fmt.Errorf("failed to create gateway for profile %s: %w", profile.ID, err)
		}
		// First profile per provider wins; later ones are fallback keys.
		if _, exists := d.gateways[profile.Provider]; !exists {
			d.gateways[profile.Provider] = gw
		}
	}
	d.logger.Info().Int("providers", len(d.gateways)).Msg("AI gateways initialized")

	d.toolRegistry = tools.NewRegistry(time.Duration(d.config.Executor.ToolTimeout) * time.Second)
	if err := tools.RegisterCoreTools(d.toolRegistry, tools.Options{
		WorkspaceRoot: d.config.WorkspacePath,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.toolRegistry.Names()).Msg("Core tools registered")

	tasklog, err := contextstore.NewTaskLog(d.config.DataDir + "/contexts")
	if err != nil {
		return fmt.Errorf("failed to create task log: %w", err)
	}
	d.tasklog = tasklog

	cards, err := contextstore.NewCardStore(d.config.DataDir + "/cards.db")
	if err != nil {
		return fmt.Errorf("failed to open card store: %w", err)
	}
	d.cards = cards
	d.logger.Info().Msg("Context stores initialized")

	var sinks []events.Sink
	if d.config.Events.LogStreamURL != "" {
		sinks = append(sinks, events.NewLogStreamSink(d.config.Events.LogStreamURL))
	}
	if d.config.Events.SSEAPIBase != "" {
		sinks = append(sinks, events.NewSSESink(d.config.Events.SSEAPIBase))
	}
	sinks = append(sinks, events.NewBillingSink(d.queue, d.config.Queue.BillingQueue))
	d.outbox = events.NewOutbox(zlog, sinks...)
	d.logger.Info().Int("sinks", len(sinks)).Msg("Event outbox initialized")

	agentsReg, err := agents.NewRegistry(d.config.Agents, d.config.AgentsDir, zlog)
	if err != nil {
		return fmt.Errorf("failed to create agent registry: %w", err)
	}
	d.agentsReg = agentsReg
	if d.config.AgentsDir != "" {
		watcher, err := agents.NewWatcher(agentsReg)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Agent definition hot reload unavailable")
		} else {
			d.agentWatcher = watcher
		}
	}
	d.logger.Info().Int("agents", len(agentsReg.List())).Msg("Agent registry initialized")

	d.store = runstate.NewStore()
	d.registry = runstate.NewRegistry()

	ink, err := intake.New(d.queue, d.config.Queue.IntakeQueue, d.agentsReg, zlog)
	if err != nil {
		return fmt.Errorf("failed to create intake: %w", err)
	}
	d.intake = ink

	exec, err := executor.New(d.gateways, d.toolRegistry, d.tasklog, d.outbox, executor.ConfigFromApp(d.config.Executor), zlog)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	d.executor = exec

	w, err := worker.New(worker.Options{
		Queue:    d.queue,
		Agents:   d.agentsReg,
		Core:     d.coreClient,
		Executor: d.executor,
		Store:    d.store,
		Registry: d.registry,
		TaskLog:  d.tasklog,
		Cards:    d.cards,
		Outbox:   d.outbox,
		Config: worker.Config{
			QueueName:   d.config.Queue.IntakeQueue,
			PollTimeout: time.Duration(d.config.Worker.PollTimeout) * time.Second,
			IdleSleep:   time.Duration(d.config.Worker.IdleSleepMs) * time.Millisecond,
		},
		Logger: zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	d.worker = w

	sweeper, err := worker.NewSweeper(d.registry, d.store, d.config.Worker.SweepSchedule, zlog)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	d.sweeper = sweeper

	return nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Msg("Starting agentd")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.admin.Start(); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	d.logger.Info().Int("port", d.config.Admin.Port).Msg("Admin server started")

	if d.agentWatcher != nil {
		d.agentWatcher.Start()
	}

	d.sweeper.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker.Start(d.ctx)
	}()

	d.logger.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon. The worker observes cancellation between polls, so
// an in-flight run is drained before the loop exits.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping agentd")

	if err := d.admin.Stop(context.Background()); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop admin server")
	}

	if d.agentWatcher != nil {
		if err := d.agentWatcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop agent watcher")
		}
	}

	d.sweeper.Stop()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info().Msg("Worker drained")
	case <-time.After(30 * time.Second):
		d.logger.Warn().Msg("Timeout waiting for worker to drain")
	}

	if err := d.queue.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close queue")
	}
	if err := d.cards.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close card store")
	}
	d.store.Close()
	d.outbox.Close()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status reports whether the daemon is running and for how long, plus the
// worker's counters.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime

		phase, runID, processed, failed := d.worker.State().Snapshot()
		status.WorkerPhase = phase
		status.CurrentRunID = runID
		status.RunsProcessed = processed
		status.RunsFailed = failed
		status.ActiveRuns = d.registry.Len()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status represents daemon status.
type Status struct {
	Running       bool
	Uptime        time.Duration
	StartTime     time.Time
	WorkerPhase   string
	CurrentRunID  string
	RunsProcessed uint64
	RunsFailed    uint64
	ActiveRuns    int
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger.
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetIntake returns the intake service.
func (d *Daemon) GetIntake() *intake.Intake {
	return d.intake
}

// GetStore returns the run state store.
func (d *Daemon) GetStore() *runstate.Store {
	return d.store
}

// GetRegistry returns the active run registry.
func (d *Daemon) GetRegistry() *runstate.Registry {
	return d.registry
}

// GetAgents returns the agent registry.
func (d *Daemon) GetAgents() *agents.Registry {
	return d.agentsReg
}

// GetTaskLog returns the per-card context log.
func (d *Daemon) GetTaskLog() *contextstore.TaskLog {
	return d.tasklog
}
