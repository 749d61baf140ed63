package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackboard/agentd/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the agentd daemon and its worker loop.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pidFile := pidFilePath(cfg.DataDir)
	if !isRunning(pidFile) {
		fmt.Println("Status: stopped")
		return nil
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return fmt.Errorf("invalid PID file: %w", err)
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID: %d\n", pid)

	// The admin server has the interesting numbers; fall back to the PID
	// file alone when it is unreachable.
	status, err := fetchDaemonStatus(cfg)
	if err != nil {
		fmt.Printf("Worker: unavailable (%v)\n", err)
		return nil
	}

	fmt.Printf("Uptime: %s\n", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	fmt.Printf("Worker phase: %s\n", status.WorkerPhase)
	if status.CurrentRunID != "" {
		fmt.Printf("Current run: %s\n", status.CurrentRunID)
	}
	fmt.Printf("Runs processed: %d\n", status.RunsProcessed)
	fmt.Printf("Runs failed: %d\n", status.RunsFailed)
	fmt.Printf("Active runs: %d\n", status.ActiveRuns)

	return nil
}

type daemonStatus struct {
	Running       bool   `json:"running"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkerPhase   string `json:"worker_phase"`
	CurrentRunID  string `json:"current_run_id"`
	RunsProcessed uint64 `json:"runs_processed"`
	RunsFailed    uint64 `json:"runs_failed"`
	ActiveRuns    int    `json:"active_runs"`
}

func fetchDaemonStatus(cfg *config.Config) (*daemonStatus, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	url := fmt.Sprintf("http://%s/v1/status", adminAddr(cfg))

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin server returned %d", resp.StatusCode)
	}

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func adminAddr(cfg *config.Config) string {
	host := cfg.Admin.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Admin.Port)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
