package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackboard/agentd/internal/config"
)

var (
	submitCardID  string
	submitAgentID string
	submitUserID  string
	submitMode    string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an execution request",
	Long: `Submit an execution request to a running daemon and print the
allocated run ID. The run itself happens asynchronously.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitCardID, "card", "", "card ID to run against (required)")
	submitCmd.Flags().StringVar(&submitAgentID, "agent", "", "agent ID to run (required)")
	submitCmd.Flags().StringVar(&submitUserID, "user", "", "user ID on whose behalf the run executes")
	submitCmd.Flags().StringVar(&submitMode, "mode", "", "execution mode: standard or conversation")
	_ = submitCmd.MarkFlagRequired("card")
	_ = submitCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"cardId":  submitCardID,
		"agentId": submitAgentID,
		"userId":  submitUserID,
		"mode":    submitMode,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/v1/executions", adminAddr(cfg))
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	var acceptance struct {
		RunID   string `json:"runId"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&acceptance); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if acceptance.Status != "started" {
		return fmt.Errorf("execution rejected: %s", acceptance.Message)
	}

	fmt.Printf("Run accepted: %s\n", acceptance.RunID)
	fmt.Printf("Follow with: agentd runs --run %s\n", acceptance.RunID)
	return nil
}
