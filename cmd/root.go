package cmd

import (
	"os"
	"strings"

	"turnrelay/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "turnrelay",
	Short: "Chat-turn batch dispatcher and token streamer",
	Long:  "TurnRelay consumes chat-turn events from a queue, runs them against model adapters and streams tokens to the client notification channel.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to TURNRELAY_CONFIG or ./config.{json,yaml})")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadFile(path)
	}
	return config.LoadConfig()
}
