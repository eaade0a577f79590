package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "vixy",
	Short: "Vixy - Ethereum EL/CL reverse proxy with health-driven failover",
	Long: `Vixy sits between Ethereum client applications and a fleet of EL and
CL nodes. It continuously monitors upstream health and chain progress,
routes requests to the best healthy upstream, and fails over
transparently - including live WebSocket connections, whose
subscriptions are replayed on the new upstream without the client
noticing.

Surfaces:
  POST /el        EL JSON-RPC pass-through (single or batch)
  GET  /el/ws     EL WebSocket proxy with subscription replay
  ANY  /cl/{path} CL Beacon REST pass-through
  GET  /status    JSON health snapshot
  GET  /health    proxy liveness
  GET  /metrics   Prometheus metrics`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "vixy.toml", "config file path (.toml, .yaml)")
}
