package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackboard/agentd/internal/config"
)

var runsRunID string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs",
	Long: `List the runs currently being processed, or show the status of a
single run with --run.`,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsRunID, "run", "", "show the status of one run")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	if runsRunID != "" {
		return showRunStatus(client, cfg, runsRunID)
	}
	return listActiveRuns(client, cfg)
}

func showRunStatus(client *http.Client, cfg *config.Config, runID string) error {
	url := fmt.Sprintf("http://%s/v1/runs/%s/status", adminAddr(cfg), runID)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("no status for run %s (expired or unknown)", runID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin server returned %d", resp.StatusCode)
	}

	var status struct {
		RunID     string    `json:"run_id"`
		Status    string    `json:"status"`
		Message   string    `json:"message"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Run: %s\n", status.RunID)
	fmt.Printf("Status: %s\n", status.Status)
	if status.Message != "" {
		fmt.Printf("Message: %s\n", status.Message)
	}
	fmt.Printf("Updated: %s\n", status.UpdatedAt.Format(time.RFC3339))
	return nil
}

func listActiveRuns(client *http.Client, cfg *config.Config) error {
	url := fmt.Sprintf("http://%s/v1/runs/active", adminAddr(cfg))
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin server returned %d", resp.StatusCode)
	}

	var payload struct {
		Count int `json:"count"`
		Runs  []struct {
			RunID     string    `json:"run_id"`
			AgentID   string    `json:"agent_id"`
			CardID    string    `json:"card_id"`
			StartTime time.Time `json:"start_time"`
		} `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if payload.Count == 0 {
		fmt.Println("No active runs")
		return nil
	}

	for _, run := range payload.Runs {
		fmt.Printf("%s  agent=%s card=%s started=%s\n",
			run.RunID, run.AgentID, run.CardID, run.StartTime.Format(time.RFC3339))
	}
	return nil
}
