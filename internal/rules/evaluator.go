// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"context"
	"strconv"

	"github.com/samber/oops"

	"github.com/pulseboard/pulseboard/internal/document"
	"github.com/pulseboard/pulseboard/internal/rules/dsl"
)

// maxRootChainDepth bounds chained root lookups at evaluation time. Each
// level costs a sequential document fetch, so a runaway chain would burn
// the whole per-call deadline before denying.
const maxRootChainDepth = 8

// evalContext is the per-call, non-shared evaluation state.
type evalContext struct {
	actorID  string
	data     document.Document
	extra    map[string]any
	resolver *rootResolver
}

// value is a resolved operand. present is false for absent values
// (missing fields, not-found root lookups).
type value struct {
	v       any
	present bool
}

var absent = value{}

// evaluate walks the expression and returns its boolean result. Any error
// (fetch failure, timeout, malformed path) aborts the walk; the engine
// maps errors to a denial.
func evaluate(ctx context.Context, ec *evalContext, expr *dsl.Expression) (bool, error) {
	return evalExpression(ctx, ec, expr, 0)
}

// evalExpression evaluates a disjunction left to right, short-circuiting
// on the first true term. Root lookups in later terms are never fetched
// once an earlier term grants — the "ownership or token" escape hatch
// depends on this.
func evalExpression(ctx context.Context, ec *evalContext, e *dsl.Expression, depth int) (bool, error) {
	for _, term := range e.Or {
		ok, err := evalAndTerm(ctx, ec, term, depth)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// evalAndTerm evaluates a conjunction, short-circuiting on false.
func evalAndTerm(ctx context.Context, ec *evalContext, t *dsl.AndTerm, depth int) (bool, error) {
	for _, unary := range t.And {
		ok, err := evalUnary(ctx, ec, unary, depth)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalUnary(ctx context.Context, ec *evalContext, u *dsl.UnaryTerm, depth int) (bool, error) {
	if u.Not != nil {
		ok, err := evalUnary(ctx, ec, u.Not, depth)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return evalComparison(ctx, ec, u.Cmp, depth)
}

// evalComparison evaluates "left op right", or interprets a lone operand
// as a boolean. Comparisons are fail-safe: an absent operand or an
// uncomparable type yields false, never an error.
func evalComparison(ctx context.Context, ec *evalContext, c *dsl.Comparison, depth int) (bool, error) {
	left, err := resolveOperand(ctx, ec, c.Left, depth)
	if err != nil {
		return false, err
	}

	if c.Op == "" {
		return truthy(left), nil
	}

	right, err := resolveOperand(ctx, ec, c.Right, depth)
	if err != nil {
		return false, err
	}

	if !left.present || !right.present {
		return false, nil
	}

	lStr, lOK := canonical(left.v)
	rStr, rOK := canonical(right.v)
	if !lOK || !rOK {
		return false, nil
	}

	equal := lStr == rStr
	if c.Op == "!=" {
		return !equal, nil
	}
	return equal, nil
}

func resolveOperand(ctx context.Context, ec *evalContext, o *dsl.Operand, depth int) (value, error) {
	switch {
	case o.Bool != nil:
		return value{v: *o.Bool == "true", present: true}, nil

	case o.Str != nil:
		return value{v: *o.Str, present: true}, nil

	case o.Number != nil:
		return value{v: *o.Number, present: true}, nil

	case o.Path != nil:
		return resolvePath(ec, o.Path), nil

	case o.Root != nil:
		return resolveRoot(ctx, ec, o.Root, depth)

	case o.Group != nil:
		ok, err := evalExpression(ctx, ec, o.Group, depth)
		if err != nil {
			return absent, err
		}
		return value{v: ok, present: true}, nil

	default:
		return absent, oops.Code("RULE_PARSE").Errorf("empty operand")
	}
}

// resolvePath looks up a dotted path in the auth, data, or extra-context
// bags. Missing bags or fields resolve to absent, not errors.
func resolvePath(ec *evalContext, p *dsl.PathRef) value {
	head, rest := p.Parts[0], p.Parts[1:]

	var bag map[string]any
	switch head {
	case "auth":
		bag = map[string]any{"uid": ec.actorID}
	case "data":
		bag = ec.data
	default:
		nested, ok := ec.extra[head].(map[string]any)
		if !ok {
			return absent
		}
		bag = nested
	}

	return walkFields(bag, rest)
}

// resolveRoot resolves a root lookup: the index expression first (it may
// itself chain into further lookups), then the referenced document, then
// the field path within it.
func resolveRoot(ctx context.Context, ec *evalContext, ref *dsl.RootRef, depth int) (value, error) {
	if depth >= maxRootChainDepth {
		return absent, oops.Code("RULE_DEPTH").
			With("reference", ref.String()).
			Errorf("root lookup chain exceeds depth %d", maxRootChainDepth)
	}

	idVal, err := resolveIndex(ctx, ec, ref.Index, depth+1)
	if err != nil {
		return absent, err
	}
	if !idVal.present {
		// No identifier to look up; the reference is absent, matching
		// the not-found case rather than failing the evaluation.
		return absent, nil
	}

	id, ok := canonical(idVal.v)
	if !ok || id == "" {
		return absent, oops.Code("RULE_INDEX").
			With("reference", ref.String()).
			Errorf("root lookup index is not a scalar identifier")
	}

	doc, err := ec.resolver.resolve(ctx, ref.Collection, id)
	if err != nil {
		return absent, oops.With("reference", ref.String()).Wrap(err)
	}
	if doc == nil {
		return absent, nil
	}

	return walkFields(doc, ref.Field), nil
}

// resolveIndex evaluates a root-lookup index expression. The grammar
// admits any expression inside the brackets, but only a bare operand
// (path, literal, or nested root lookup) denotes a scalar identifier.
func resolveIndex(ctx context.Context, ec *evalContext, e *dsl.Expression, depth int) (value, error) {
	if len(e.Or) == 1 && len(e.Or[0].And) == 1 {
		unary := e.Or[0].And[0]
		if unary.Not == nil && unary.Cmp != nil && unary.Cmp.Op == "" {
			return resolveOperand(ctx, ec, unary.Cmp.Left, depth)
		}
	}
	return absent, oops.Code("RULE_INDEX").
		With("expression", e.String()).
		Errorf("root lookup index must be a scalar expression")
}

// walkFields descends a dotted field path through nested maps. Any
// missing or non-map intermediate makes the whole path absent.
func walkFields(bag map[string]any, fields []string) value {
	var current any = bag
	for _, field := range fields {
		m, ok := current.(map[string]any)
		if !ok {
			if doc, isDoc := current.(document.Document); isDoc {
				m = doc
			} else {
				return absent
			}
		}
		next, ok := m[field]
		if !ok {
			return absent
		}
		current = next
	}
	if current == nil {
		return absent
	}
	return value{v: current, present: true}
}

// canonical converts a scalar to its canonical string form so numeric,
// boolean, and ObjectId-like identifiers compare consistently regardless
// of source field type. Composite values are not comparable.
func canonical(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// truthy interprets a lone operand as a boolean: true literals, boolean
// fields, and the string "true". Everything else, absent included, is
// false.
func truthy(v value) bool {
	if !v.present {
		return false
	}
	switch val := v.v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}
