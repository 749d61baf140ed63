package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/daemon"
	"github.com/stackboard/agentd/internal/logger"
)

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agentd daemon",
	Long: `Start the agentd daemon. It serves the intake API, drains the
execution queue, and runs agents until stopped.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startForeground, "foreground", true, "run in the foreground")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := pidFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    startForeground,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("agentd started (intake on %s:%d)\n", cfg.Admin.Host, cfg.Admin.Port)
	d.Wait()
	return nil
}

func pidFilePath(dataDir string) string {
	if dataDir != "" {
		return filepath.Join(dataDir, "agentd.pid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/agentd.pid"
	}
	return filepath.Join(home, ".agentd", "agentd.pid")
}

func isRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	_, err = fmt.Sscanf(string(data), "%d", &pid)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(os.Signal(nil))
	return err == nil
}
