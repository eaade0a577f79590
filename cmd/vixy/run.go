package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainbound/vixy/pkg/config"
	"github.com/chainbound/vixy/pkg/server"
	"github.com/chainbound/vixy/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Vixy proxy server",
	Long: `Start the Vixy proxy server with the specified configuration.

Examples:
  # Start with default config
  vixy run

  # Start with custom config
  vixy run --config /etc/vixy/vixy.toml

  # Override listen address
  vixy run --listen 0.0.0.0:8545

  # Validate config without starting
  vixy run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Global.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Log.Level = runFlags.logLevel
	}

	if err := logging.Setup(cfg.Log, nil); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	return server.New(cfg).Start(cmd.Context(), cfgFile)
}
