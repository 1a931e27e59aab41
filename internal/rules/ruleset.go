// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

// Package rules implements the declarative per-resource access-control
// evaluator: a hot-reloadable rule table, a compiled-expression cache, a
// root-reference resolver, and the evaluation engine. The failure model is
// strict default-deny: any missing rule, parse error, fetch error, or
// timeout yields a denial, never a panic or an error surfaced to callers
// of Validate.
package rules

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Operation is the kind of access being checked.
type Operation string

// Supported operations. Anything else has no rule and is denied.
const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// OperationRules holds the expression sources for one collection. An empty
// string means no rule, which denies.
type OperationRules struct {
	Read  string `json:"read,omitempty" koanf:"read"`
	Write string `json:"write,omitempty" koanf:"write"`
}

func (r OperationRules) forOp(op Operation) (string, bool) {
	switch op {
	case OpRead:
		return r.Read, r.Read != ""
	case OpWrite:
		return r.Write, r.Write != ""
	default:
		return "", false
	}
}

// patternRule pairs a compiled glob with its rules. Patterns are matched
// after exact names, in sorted name order so overlapping patterns resolve
// the same way on every reload.
type patternRule struct {
	source  string
	pattern glob.Glob
	rules   OperationRules
}

// RuleSet is an immutable snapshot of the rule table. It is built once per
// load and replaced wholesale; readers never observe partial updates.
type RuleSet struct {
	exact      map[string]OperationRules
	patterns   []patternRule
	generation uint64
	loadedAt   time.Time
}

// NewRuleSet builds a snapshot from collection name (or glob pattern) to
// operation rules. Names containing glob metacharacters become patterns;
// exact names always win over patterns.
func NewRuleSet(collections map[string]OperationRules, order []string, generation uint64) (*RuleSet, error) {
	rs := &RuleSet{
		exact:      make(map[string]OperationRules, len(collections)),
		generation: generation,
		loadedAt:   time.Now(),
	}

	for _, name := range order {
		rules, ok := collections[name]
		if !ok {
			continue
		}
		if !isGlobPattern(name) {
			rs.exact[name] = rules
			continue
		}
		compiled, err := glob.Compile(name)
		if err != nil {
			return nil, oops.Code("RULESET_PATTERN").
				With("pattern", name).
				Wrapf(err, "compiling collection pattern")
		}
		rs.patterns = append(rs.patterns, patternRule{source: name, pattern: compiled, rules: rules})
	}

	return rs, nil
}

// Lookup returns the rule expression source for (collection, operation),
// or false when none is defined. Absence is the default-deny path.
func (rs *RuleSet) Lookup(collection string, op Operation) (string, bool) {
	if rules, ok := rs.exact[collection]; ok {
		if source, ok := rules.forOp(op); ok {
			return source, true
		}
		// An exact entry shadows patterns even when the operation is
		// absent: a collection that defines only "read" denies "write".
		return "", false
	}
	for _, p := range rs.patterns {
		if p.pattern.Match(collection) {
			return p.rules.forOp(op)
		}
	}
	return "", false
}

// Generation identifies this snapshot. It advances on every successful
// reload and drives compile-cache invalidation.
func (rs *RuleSet) Generation() uint64 { return rs.generation }

// LoadedAt reports when this snapshot was constructed.
func (rs *RuleSet) LoadedAt() time.Time { return rs.loadedAt }

// Collections returns the exact (non-pattern) collection names in the
// snapshot. These double as the known root-lookup targets for compile
// validation.
func (rs *RuleSet) Collections() []string {
	names := make([]string, 0, len(rs.exact))
	for name := range rs.exact {
		names = append(names, name)
	}
	return names
}

// Sources returns every distinct rule expression source in the snapshot,
// across exact names and patterns, for warm-up compilation and lint-style
// checks.
func (rs *RuleSet) Sources() []string {
	seen := make(map[string]struct{})
	var sources []string
	add := func(rules OperationRules) {
		for _, src := range []string{rules.Read, rules.Write} {
			if src == "" {
				continue
			}
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			sources = append(sources, src)
		}
	}
	for _, rules := range rs.exact {
		add(rules)
	}
	for _, p := range rs.patterns {
		add(p.rules)
	}
	return sources
}

func isGlobPattern(name string) bool {
	for _, ch := range name {
		switch ch {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
