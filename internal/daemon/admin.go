package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/pkg/intake"
)

// AdminServer is the daemon's HTTP surface: execution intake, run
// introspection, health and metrics.
type AdminServer struct {
	daemon *Daemon
	server *http.Server
}

// NewAdminServer creates the admin server for a daemon.
func NewAdminServer(d *Daemon) *AdminServer {
	a := &AdminServer{daemon: d}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/executions", a.handleExecutions)
	mux.HandleFunc("/v1/runs/active", a.handleActiveRuns)
	mux.HandleFunc("/v1/runs/", a.handleRunStatus)
	mux.HandleFunc("/v1/agents", a.handleAgents)
	mux.HandleFunc("/v1/status", a.handleStatus)
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/metrics", observability.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", d.config.Admin.Host, d.config.Admin.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return a
}

// Start begins serving. The listener is opened synchronously so a port
// conflict fails startup instead of surfacing later.
func (a *AdminServer) Start() error {
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}

	go func() {
		if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.daemon.logger.Error().Err(err).Msg("Admin server error")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (a *AdminServer) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Addr reports the configured listen address.
func (a *AdminServer) Addr() string {
	return a.server.Addr
}

// handleExecutions accepts an execution request and returns the acceptance
// synchronously. The run itself happens later, on the worker.
func (a *AdminServer) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acceptance := a.daemon.GetIntake().Submit(r.Context(), req)
	status := http.StatusAccepted
	if acceptance.Status == "failed" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, acceptance)
}

func (a *AdminServer) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runs := a.daemon.GetRegistry().List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// handleRunStatus serves GET /v1/runs/{id}/status.
func (a *AdminServer) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	runID, verb, found := strings.Cut(rest, "/")
	if !found || verb != "status" || runID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	status, ok := a.daemon.GetStore().GetRunStatus(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no status for run %s", runID))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *AdminServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agents := a.daemon.GetAgents().List()
	summaries := make([]map[string]interface{}, 0, len(agents))
	for _, agent := range agents {
		summaries = append(summaries, map[string]interface{}{
			"id":       agent.ID,
			"name":     agent.Name,
			"provider": agent.Provider,
			"model":    agent.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(summaries),
		"agents": summaries,
	})
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := a.daemon.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":        status.Running,
		"uptime_seconds": int64(status.Uptime.Seconds()),
		"worker_phase":   status.WorkerPhase,
		"current_run_id": status.CurrentRunID,
		"runs_processed": status.RunsProcessed,
		"runs_failed":    status.RunsFailed,
		"active_runs":    status.ActiveRuns,
	})
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
