package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davron/xuigram/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration the daemon would start with, after merging
the config file, environment overrides, and defaults. Secrets are masked.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	shown := *cfg
	shown.Telegram.BotToken = mask(shown.Telegram.BotToken)
	shown.Panel.Password = mask(shown.Panel.Password)

	fmt.Printf("Config file: %s\n\n", loader.GetConfigPath())
	fmt.Println(shown.String())

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nConfiguration is incomplete: %v\n", err)
		return nil
	}
	fmt.Println("\nConfiguration is complete.")
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}
