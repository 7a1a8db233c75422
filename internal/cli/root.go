package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nodesentinel/internal/app"
	"nodesentinel/internal/config"
	"nodesentinel/internal/logging"
	"nodesentinel/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "nodesentinel",
	Short:         "Watch a Bitcoin/Lightning node and the BTC market, alert over Telegram",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		return initApp()
	},
}

// commands annotated with skipConfig run without loading configuration
const skipConfig = "skip-config"

func initApp() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger := logging.NewLogger(cfg.Logging)
	logger.Debug().Str("environment", cfg.App.Environment).Msg("configuration loaded")
	appHandle = app.NewApp(cfg, logger)
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file (default ./config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	flags.StringVar(&logFormat, "log-format", "", "Override log format (json or console)")

	rootCmd.AddCommand(runCmd, statusCmd, showCmd, exportCmd, simulateCmd, versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
