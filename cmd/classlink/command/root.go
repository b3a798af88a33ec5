package command

// root.go defines the root command and the setup every subcommand shares:
// configuration, logging and the device identity.

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"classlink/internal/config"
	"classlink/internal/logging"
)

var (
	envFile  string // path to the .env file
	logLevel string // overrides LOG_LEVEL

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "classlink",
	Short: "classlink - classroom student device agent",
	Long: `classlink runs on a student device and keeps it attached to the teacher's
classroom server. It can:
- Discover the teacher server from its UDP broadcast
- Pair over TCP and follow lock/unlock and hand-raise control messages
- Download distributed material and returned feedback
- Queue answers offline and sync them when the server is reachable

Use "classlink command --help" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadConfig(envFile)
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}
