// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulseboard/pulseboard/internal/rules"
)

// NewCheckRulesCmd creates the check-rules subcommand.
func NewCheckRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-rules <file>",
		Short: "Validate an access-rules file without starting the daemon",
		Long: `Validates the rules file against the schema and compiles every rule
expression. Does NOT start the daemon or require a database connection.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch rule errors before deploy:
  pulseboard check-rules rules.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCheckRules(args[0])
		},
	}
}

func runCheckRules(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rules file: %w", err)
	}
	if err := rules.ValidateRulesFile(raw); err != nil {
		return fmt.Errorf("rules file schema: %w", err)
	}

	compiler := rules.NewCompiler()
	store := rules.NewStore(path, compiler)
	if err := store.Reload(context.Background()); err != nil {
		return fmt.Errorf("loading rules file: %w", err)
	}
	rs := store.Current()

	var failures []string
	for _, src := range rs.Sources() {
		if _, err := compiler.Compile(src); err != nil {
			failures = append(failures, fmt.Sprintf("  %s: %v", src, err))
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			slog.Error("rule validation failed", "detail", f)
		}
		return fmt.Errorf("validation failed: %d of %d rules invalid", len(failures), len(rs.Sources()))
	}

	slog.Info("all rules valid", "count", len(rs.Sources()))
	return nil
}
