// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/logging"
	"github.com/pulseboard/pulseboard/internal/observability"
	"github.com/pulseboard/pulseboard/internal/rules"
	"github.com/pulseboard/pulseboard/pkg/errutil"
)

// ServeDeps holds injectable dependencies for the serve command.
// Nil fields fall back to production implementations.
type ServeDeps struct {
	ObservabilityStart func(addr string, ready observability.ReadinessChecker) (stop func(context.Context) error, errCh <-chan error, err error)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rule-table daemon",
		Long: `Run the rule-table daemon: loads the access-rules file, compiles
every rule, keeps the table refreshed on a timer, and serves metrics
and health probes. Embedding services evaluate against the same rules
file through the rules package.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, nil)
		},
	}

	// Flag names line up with config file keys so flags override the file.
	cmd.Flags().String("rules_path", "", "path to the access-rules YAML file")
	cmd.Flags().Duration("reload_interval", config.DefaultReloadInterval, "rule table reload interval")
	cmd.Flags().String("metrics_addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log_format", config.DefaultLogFormat, "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ObservabilityStart == nil {
		deps.ObservabilityStart = startObservability
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("pulseboard", version, cfg.LogFormat)

	compiler := rules.NewCompiler()
	store := rules.NewStore(cfg.RulesPath, compiler,
		rules.WithReloadInterval(cfg.ReloadInterval),
		rules.WithReloadGauge(rules.RulesLastReload),
	)

	// The initial load must succeed; a daemon that never had a valid rule
	// table denies everything and is not worth starting.
	if err := store.Reload(ctx); err != nil {
		errutil.LogError(slog.Default(), "initial rule load failed", err)
		return err
	}

	if err := compileAll(compiler, store.Current()); err != nil {
		errutil.LogError(slog.Default(), "rule compilation failed at startup", err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store.Start(ctx)

	var stopObs func(context.Context) error
	if cfg.MetricsAddr != "" {
		ready := func() bool { return store.LastError() == nil }
		stop, obsErrCh, err := deps.ObservabilityStart(cfg.MetricsAddr, ready)
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		stopObs = stop
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Rule-table daemon started")
	slog.Info("daemon ready",
		"rules_path", cfg.RulesPath,
		"reload_interval", cfg.ReloadInterval.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	cancel()
	store.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if stopObs != nil {
		if err := stopObs(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// compileAll warms the compile cache with every rule in the snapshot so
// syntax errors surface at startup instead of as per-request denials.
func compileAll(compiler *rules.Compiler, rs *rules.RuleSet) error {
	for _, src := range rs.Sources() {
		if _, err := compiler.Compile(src); err != nil {
			return err
		}
	}
	return nil
}

// startObservability boots the metrics/health server and registers the
// rule-store gauges with its registry.
func startObservability(addr string, ready observability.ReadinessChecker) (func(context.Context) error, <-chan error, error) {
	srv := observability.NewServer(addr, ready)
	rules.RegisterStoreMetrics(srv.Registry())
	errCh, err := srv.Start()
	if err != nil {
		return nil, nil, err
	}
	return srv.Stop, errCh, nil
}

// monitorServerErrors cancels the context when a background server fails,
// so a dead metrics endpoint takes the process down for a restart instead
// of lingering half-alive.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
