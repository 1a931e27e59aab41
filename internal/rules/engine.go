// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pulseboard/pulseboard/internal/document"
	"github.com/pulseboard/pulseboard/pkg/errutil"
)

// DefaultEvalTimeout is the per-call deadline covering every root-lookup
// fetch an evaluation may need.
const DefaultEvalTimeout = 5 * time.Second

// EngineOption configures Engine behavior.
type EngineOption func(*engineConfig)

type engineConfig struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithEvalTimeout sets the per-evaluation deadline.
func WithEvalTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		c.timeout = d
	}
}

// WithEngineLogger sets the logger for evaluation diagnostics.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// Engine is the access-rule evaluator. It is safe for concurrent use:
// evaluations share only the immutable RuleSet snapshot and the compile
// cache, and each call gets its own resolver memo.
type Engine struct {
	rules    *Store
	compiler *Compiler
	docs     document.Store
	cfg      engineConfig
}

// NewEngine creates an Engine over the given rule store, compiler, and
// document store.
func NewEngine(rules *Store, compiler *Compiler, docs document.Store, opts ...EngineOption) *Engine {
	cfg := engineConfig{
		timeout: DefaultEvalTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		rules:    rules,
		compiler: compiler,
		docs:     docs,
		cfg:      cfg,
	}
}

// Validate decides whether actorID may perform op on a resource of the
// given collection. The contract is strictly boolean: every failure mode
// (missing rule, parse error, fetch error, deadline) denies; no error or
// panic ever reaches the caller. extra carries out-of-band values such as
// a presented credential token and may be nil.
func (e *Engine) Validate(ctx context.Context, collection string, op Operation, actorID string, resource document.Document, extra map[string]any) bool {
	start := time.Now()

	source, ok := e.rules.CurrentRule(collection, op)
	if !ok {
		// Expected, secure-by-default behavior, not a fault.
		e.cfg.logger.Debug("no rule defined, denying",
			"collection", collection, "operation", string(op))
		recordEvaluation(collection, time.Since(start), outcomeNoRule)
		return false
	}

	compiled, err := e.compiler.Compile(source)
	if err != nil {
		errutil.LogError(e.cfg.logger, "rule compilation failed, denying", err)
		e.cfg.logger.Error("offending rule",
			"collection", collection, "operation", string(op), "source", source)
		recordEvaluation(collection, time.Since(start), outcomeError)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.timeout)
	defer cancel()

	ec := &evalContext{
		actorID:  actorID,
		data:     resource,
		extra:    extra,
		resolver: newRootResolver(e.docs),
	}

	result, err := evaluate(ctx, ec, compiled.Expr)
	if err != nil {
		errutil.LogError(e.cfg.logger, "rule evaluation failed, denying", err)
		e.cfg.logger.Error("evaluation context",
			"collection", collection,
			"operation", string(op),
			"actor", actorID,
			"rule", compiled.Expr.String())
		recordEvaluation(collection, time.Since(start), outcomeError)
		return false
	}

	outcome := outcomeDeny
	if result {
		outcome = outcomeAllow
	}
	recordEvaluation(collection, time.Since(start), outcome)
	return result
}

// VerifyOwnership is the convenience path for callers holding only a
// resource id: it fetches the document and delegates to Validate. A
// missing document or store failure denies.
func (e *Engine) VerifyOwnership(ctx context.Context, collection, id, actorID string, op Operation) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.timeout)
	defer cancel()

	doc, err := e.docs.FetchByID(fetchCtx, collection, id)
	if err != nil {
		if !errors.Is(err, document.ErrNotFound) {
			errutil.LogError(e.cfg.logger, "ownership fetch failed, denying", err)
		}
		return false
	}

	return e.Validate(ctx, collection, op, actorID, doc, nil)
}
