// Package cli holds the orchid command line.
package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/john/orchid/internal/config"
	"github.com/john/orchid/internal/logging"
)

const defaultConfigPath = "config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchid",
	Short: "Stream overlay backend and client",
	Long: `Orchid relays Twitch and Kick chat, moderation and layout changes to
browser overlays over a WebSocket.

Available commands:
  serve    Run the backend
  watch    Connect to a backend like an overlay and print what it shows
  version  Print the version`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional
		envErr := godotenv.Load()
		logging.New()
		if envErr != nil {
			slog.Debug("no .env file loaded", "error", envErr)
		}
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath,
		"path to the YAML config file (also CONFIG_PATH)")
}

// loadConfig reads the config file named by --config or CONFIG_PATH. When
// neither was given and the default file is missing, defaults and the
// environment are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, explicit := configPath, cmd.Flags().Changed("config")
	if !explicit {
		if env := os.Getenv("CONFIG_PATH"); env != "" {
			path, explicit = env, true
		}
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found, using defaults and environment", "path", path)
			return config.FromEnv()
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("configuration loaded", "path", path)
	return cfg, nil
}
