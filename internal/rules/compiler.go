// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/pulseboard/pulseboard/internal/rules/dsl"
)

// CompiledRule is the parsed, validated form of one rule source string.
type CompiledRule struct {
	Source     string
	Expr       *dsl.Expression
	CompiledAt time.Time
}

// Compiler turns rule source strings into compiled ASTs, cached by exact
// source string so identical rules across collections compile once. The
// cache lives for one RuleSet generation and is cleared when the store
// swaps in a new snapshot.
type Compiler struct {
	mu         sync.RWMutex
	cache      map[string]*CompiledRule
	known      map[string]struct{}
	generation uint64
}

// NewCompiler creates a Compiler with an empty cache. An empty known set
// accepts root lookups into any collection; SetKnownCollections narrows it.
func NewCompiler() *Compiler {
	return &Compiler{
		cache: make(map[string]*CompiledRule),
		known: make(map[string]struct{}),
	}
}

// SetKnownCollections replaces the set of collections a root lookup may
// target and invalidates the cache for the new generation. Called by the
// rule store after each successful reload.
func (c *Compiler) SetKnownCollections(names []string, generation uint64) {
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = known
	if generation != c.generation {
		c.generation = generation
		c.cache = make(map[string]*CompiledRule)
	}
}

// Compile returns the compiled form of source, from cache when possible.
// Compilation is pure: the same source always yields an AST that evaluates
// identically.
func (c *Compiler) Compile(source string) (*CompiledRule, error) {
	c.mu.RLock()
	cached, ok := c.cache[source]
	c.mu.RUnlock()
	if ok {
		recordCompileCache(true)
		return cached, nil
	}
	recordCompileCache(false)

	expr, err := dsl.Parse(source)
	if err != nil {
		return nil, err
	}

	if err := c.checkRootCollections(expr); err != nil {
		return nil, err
	}

	compiled := &CompiledRule{
		Source:     source,
		Expr:       expr,
		CompiledAt: time.Now(),
	}

	c.mu.Lock()
	// A concurrent compile of the same source may have won; keep the
	// first entry so cached pointers stay stable within a generation.
	if existing, ok := c.cache[source]; ok {
		compiled = existing
	} else {
		c.cache[source] = compiled
	}
	c.mu.Unlock()

	return compiled, nil
}

// checkRootCollections walks the AST and rejects root lookups into
// collections outside the known set.
func (c *Compiler) checkRootCollections(expr *dsl.Expression) error {
	c.mu.RLock()
	known := c.known
	c.mu.RUnlock()

	if len(known) == 0 {
		return nil
	}

	for _, ref := range collectRootRefs(expr) {
		if _, ok := known[ref.Collection]; !ok {
			return oops.Code("RULE_UNKNOWN_COLLECTION").
				With("collection", ref.Collection).
				With("reference", ref.String()).
				Errorf("root lookup targets unknown collection %q", ref.Collection)
		}
	}
	return nil
}

// collectRootRefs extracts every root reference in the expression,
// including those nested inside index expressions.
func collectRootRefs(expr *dsl.Expression) []*dsl.RootRef {
	var refs []*dsl.RootRef
	var walkExpr func(*dsl.Expression)
	var walkUnary func(*dsl.UnaryTerm)
	var walkOperand func(*dsl.Operand)

	walkExpr = func(e *dsl.Expression) {
		for _, term := range e.Or {
			for _, unary := range term.And {
				walkUnary(unary)
			}
		}
	}
	walkUnary = func(u *dsl.UnaryTerm) {
		if u.Not != nil {
			walkUnary(u.Not)
			return
		}
		if u.Cmp == nil {
			return
		}
		walkOperand(u.Cmp.Left)
		if u.Cmp.Right != nil {
			walkOperand(u.Cmp.Right)
		}
	}
	walkOperand = func(o *dsl.Operand) {
		switch {
		case o.Root != nil:
			refs = append(refs, o.Root)
			walkExpr(o.Root.Index)
		case o.Group != nil:
			walkExpr(o.Group)
		}
	}

	walkExpr(expr)
	return refs
}
