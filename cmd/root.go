// Package cmd wires the CLI commands for the world sync service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vircadia/vircadia-world-sub011/internal/build"
	"github.com/vircadia/vircadia-world-sub011/internal/config"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
)

var (
	configFile string
	debug      bool
	quiet      bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           build.AppName,
		Short:         "World-state tick synchronization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress console logging")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.AppName, err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	var opts []config.ConfigLoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Global.Debug = true
	}
	if quiet {
		cfg.Global.Quiet = true
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config) logger.Logger {
	var opts []logger.Option
	if cfg.Global.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if cfg.Global.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	opts = append(opts, logger.WithFormat(cfg.Global.LogFormat))
	return logger.NewLogger(opts...)
}
