package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainbound/vixy/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the server.

All validation errors are reported at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d EL nodes (%d primary), %d CL nodes\n",
			len(cfg.EL.Primary)+len(cfg.EL.Backup), len(cfg.EL.Primary), len(cfg.CL))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
