// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Pulseboard CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulseboard",
		Short: "Pulseboard - declarative access rules for dashboard resources",
		Long: `Pulseboard evaluates declarative per-collection access rules against
document resources, with chained cross-collection lookups and
hot-reloadable rule tables.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckRulesCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
