package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/logger"
	"github.com/stackboard/agentd/pkg/runstate"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WorkspacePath = t.TempDir()
	cfg.Queue.Driver = "memory"
	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 0
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "main", Provider: "anthropic", APIKey: "test-key"},
	}
	cfg.Agents = []config.AgentConfig{
		{
			ID: "coder", Name: "Coder", Provider: "anthropic", Model: "claude-sonnet-4-5",
			Tools: config.ToolPolicyConfig{Allow: []string{"*"}},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func testDaemon(t *testing.T) *Daemon {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	d, err := New(testConfig(t), log)
	require.NoError(t, err)
	return d
}

func TestDaemonNew(t *testing.T) {
	d := testDaemon(t)

	assert.NotNil(t, d.GetIntake())
	assert.NotNil(t, d.GetStore())
	assert.NotNil(t, d.GetRegistry())
	assert.NotNil(t, d.GetAgents())
	assert.NotNil(t, d.GetTaskLog())

	status := d.Status()
	assert.False(t, status.Running)
}

func TestDaemonStartStop(t *testing.T) {
	d := testDaemon(t)

	require.NoError(t, d.Start())
	status := d.Status()
	assert.True(t, status.Running)

	// Double start is rejected.
	assert.Error(t, d.Start())

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)

	// Double stop is rejected.
	assert.Error(t, d.Stop())
}

func TestDaemonNewRequiresGateway(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.AI.Profiles = []config.AIProfile{{ID: "bad", Provider: "unknown", APIKey: "k"}}

	_, err = New(cfg, log)
	assert.Error(t, err)
}

func adminTestServer(t *testing.T) (*Daemon, *httptest.Server) {
	t.Helper()
	d := testDaemon(t)
	server := httptest.NewServer(d.admin.server.Handler)
	t.Cleanup(server.Close)
	return d, server
}

func TestAdminHealthz(t *testing.T) {
	_, server := adminTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminSubmitExecution(t *testing.T) {
	_, server := adminTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"cardId":  "card-1",
		"agentId": "coder",
		"userId":  "u1",
	})
	resp, err := http.Post(server.URL+"/v1/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var acceptance struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acceptance))
	assert.Equal(t, "started", acceptance.Status)
	assert.NotEmpty(t, acceptance.RunID)
}

func TestAdminSubmitExecutionRejected(t *testing.T) {
	_, server := adminTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"cardId":  "card-1",
		"agentId": "ghost",
	})
	resp, err := http.Post(server.URL+"/v1/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRunStatus(t *testing.T) {
	d, server := adminTestServer(t)

	resp, err := http.Get(server.URL + "/v1/runs/run-x/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	d.GetStore().SetRunStatus("run-x", runstate.StatusCompleted, "")

	resp, err = http.Get(server.URL + "/v1/runs/run-x/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status runstate.RunStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, runstate.StatusCompleted, status.Status)
}

func TestAdminActiveRuns(t *testing.T) {
	d, server := adminTestServer(t)

	d.GetRegistry().Add(runstate.ActiveRun{RunID: "run-1", AgentID: "coder", CardID: "card-1"})

	resp, err := http.Get(server.URL + "/v1/runs/active")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Count int                 `json:"count"`
		Runs  []runstate.ActiveRun `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Count)
	require.Len(t, payload.Runs, 1)
	assert.Equal(t, "run-1", payload.Runs[0].RunID)
}

func TestAdminAgents(t *testing.T) {
	_, server := adminTestServer(t)

	resp, err := http.Get(server.URL + "/v1/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Count  int                      `json:"count"`
		Agents []map[string]interface{} `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, "coder", payload.Agents[0]["id"])
}

func TestAdminMethodNotAllowed(t *testing.T) {
	_, server := adminTestServer(t)

	resp, err := http.Get(server.URL + "/v1/executions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
