package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackboard/agentd/internal/config"
)

var (
	configureProvider string
	configureAPIKey   string
	configureCoreURL  string
	configureToken    string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write an initial configuration file",
	Long: `Write an initial configuration file with an AI profile and the core
service endpoint. Existing settings in the file are preserved.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "anthropic", "AI provider (anthropic, openai)")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "AI provider API key (required)")
	configureCmd.Flags().StringVar(&configureCoreURL, "core-url", "", "core service base URL")
	configureCmd.Flags().StringVar(&configureToken, "core-token", "", "core service bearer token")
	_ = configureCmd.MarkFlagRequired("api-key")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	profile := config.AIProfile{
		ID:       configureProvider,
		Provider: configureProvider,
		APIKey:   configureAPIKey,
	}

	replaced := false
	for i, p := range cfg.AI.Profiles {
		if p.Provider == profile.Provider {
			cfg.AI.Profiles[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		cfg.AI.Profiles = append(cfg.AI.Profiles, profile)
	}

	if configureCoreURL != "" {
		cfg.Core.BaseURL = configureCoreURL
	}
	if configureToken != "" {
		cfg.Core.Token = configureToken
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Println("You can now start the daemon with: agentd start")
	return nil
}
