// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// DefaultReloadInterval matches the documented 60-second staleness window
// of the rules resource.
const DefaultReloadInterval = 60 * time.Second

// StoreOption configures Store behavior.
type StoreOption func(*storeConfig)

type storeConfig struct {
	interval time.Duration
	gauge    prometheus.Gauge
	logger   *slog.Logger
}

// WithReloadInterval sets the timer-driven reload interval.
func WithReloadInterval(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.interval = d
	}
}

// WithReloadGauge sets the Prometheus gauge recording the last successful
// reload timestamp.
func WithReloadGauge(g prometheus.Gauge) StoreOption {
	return func(c *storeConfig) {
		c.gauge = g
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// Store owns the current RuleSet and refreshes it from the rules file.
// Reads are lock-free through an atomic pointer; the snapshot is replaced
// wholesale on each successful reload and a failed reload keeps the
// previous snapshot untouched. Evaluation never waits on a reload.
type Store struct {
	path     string
	compiler *Compiler
	cfg      storeConfig

	// reloadMu serializes load-and-swap so a racing explicit Reload and
	// ticker Reload cannot publish an older file read over a newer
	// snapshot. Readers stay lock-free through the atomic pointer.
	reloadMu   sync.Mutex
	current    atomic.Pointer[RuleSet]
	generation atomic.Uint64

	statusMu      sync.Mutex
	lastReload    time.Time
	lastReloadErr error

	wg sync.WaitGroup
}

// NewStore creates a Store reading from the given rules file path. The
// store starts with an empty RuleSet (every lookup denies) until the first
// successful Reload.
func NewStore(path string, compiler *Compiler, opts ...StoreOption) *Store {
	cfg := storeConfig{
		interval: DefaultReloadInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		path:     path,
		compiler: compiler,
		cfg:      cfg,
	}
	empty, _ := NewRuleSet(nil, nil, 0)
	s.current.Store(empty)
	return s
}

// CurrentRule returns the rule source for (collection, operation) from the
// currently visible snapshot, or false when none is defined.
func (s *Store) CurrentRule(collection string, op Operation) (string, bool) {
	return s.current.Load().Lookup(collection, op)
}

// Current returns the visible RuleSet snapshot.
func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Generation returns the generation of the visible snapshot.
func (s *Store) Generation() uint64 {
	return s.current.Load().Generation()
}

// Reload reads, validates, and parses the rules file, then atomically
// swaps the visible snapshot. On any failure the previous snapshot stays
// in place and the error is recorded for LastError.
func (s *Store) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ruleSet, err := s.load(ctx)
	if err != nil {
		s.recordFailure(err)
		reloadErrors.Inc()
		return err
	}

	s.current.Store(ruleSet)
	s.compiler.SetKnownCollections(ruleSet.Collections(), ruleSet.Generation())

	now := time.Now()
	s.statusMu.Lock()
	s.lastReload = now
	s.lastReloadErr = nil
	s.statusMu.Unlock()

	if s.cfg.gauge != nil {
		s.cfg.gauge.Set(float64(now.Unix()))
	}

	s.cfg.logger.Info("rule table reloaded",
		"path", s.path,
		"generation", ruleSet.Generation(),
		"collections", len(ruleSet.exact)+len(ruleSet.patterns))
	return nil
}

// load builds a RuleSet from the rules file without touching the visible
// snapshot.
func (s *Store) load(_ context.Context) (*RuleSet, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, oops.Code("RULESET_READ").With("path", s.path).Wrapf(err, "reading rules file")
	}

	if err := ValidateRulesFile(raw); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return nil, oops.Code("RULESET_SYNTAX").With("path", s.path).Wrapf(err, "parsing rules file")
	}

	var parsed RulesFile
	if err := k.Unmarshal("", &parsed); err != nil {
		return nil, oops.Code("RULESET_SHAPE").With("path", s.path).Wrapf(err, "decoding rules file")
	}

	// koanf maps are unordered; sort names so pattern precedence is
	// deterministic across reloads.
	order := make([]string, 0, len(parsed.Collections))
	for name := range parsed.Collections {
		order = append(order, name)
	}
	sort.Strings(order)

	generation := s.generation.Add(1)
	return NewRuleSet(parsed.Collections, order, generation)
}

// Start launches the timer-driven reload loop. The loop stops when ctx is
// cancelled; call Wait to block until it exits.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.reloadLoop(ctx)
}

// Wait blocks until the background reload loop has exited.
func (s *Store) Wait() {
	s.wg.Wait()
}

// LastReload reports when the last successful reload completed. Zero when
// no reload has succeeded yet.
func (s *Store) LastReload() time.Time {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastReload
}

// LastError reports the error from the most recent reload attempt, nil
// when it succeeded.
func (s *Store) LastError() error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastReloadErr
}

func (s *Store) recordFailure(err error) {
	s.statusMu.Lock()
	s.lastReloadErr = err
	s.statusMu.Unlock()
	s.cfg.logger.Error("rule table reload failed", "path", s.path, "error", err)
}

func (s *Store) reloadLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Reload errors are recorded and logged; the loop keeps
			// running so a fixed file is picked up on the next tick.
			_ = s.Reload(ctx) //nolint:errcheck
		}
	}
}
