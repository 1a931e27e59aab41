// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package dsl

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/samber/oops"
)

// MaxNestingDepth bounds the structural depth of an expression. It rejects
// pathological inputs (deeply nested groups, runaway root-lookup chains)
// before evaluation ever runs.
const MaxNestingDepth = 32

// reservedHeads are path heads with built-in meaning. "root" is handled by
// RootRef; a PathRef starting with "root" indicates a malformed lookup.
var reservedHeads = map[string]bool{
	"root":  true,
	"and":   true,
	"or":    true,
	"not":   true,
	"true":  true,
	"false": true,
}

// parser is the singleton participle parser instance.
var parser *participle.Parser[Expression]

func init() {
	var err error
	parser, err = NewParser()
	if err != nil {
		panic(fmt.Sprintf("failed to build rule expression parser: %v", err))
	}
}

// Parse parses a rule expression string into an AST. The returned error
// carries position information; callers treat any error as a denial.
func Parse(source string) (*Expression, error) {
	expr, err := parser.ParseString("", source)
	if err != nil {
		return nil, oops.Code("RULE_PARSE").With("source", source).Wrapf(err, "parsing rule expression")
	}

	if err := validateExpression(expr, 0); err != nil {
		return nil, err
	}

	return expr, nil
}

// validateExpression checks nesting depth and path heads across the tree.
func validateExpression(e *Expression, depth int) error {
	if depth > MaxNestingDepth {
		return oops.Code("RULE_DEPTH").Errorf("expression nesting exceeds maximum of %d", MaxNestingDepth)
	}
	for _, term := range e.Or {
		for _, unary := range term.And {
			if err := validateUnary(unary, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateUnary(u *UnaryTerm, depth int) error {
	if u.Not != nil {
		return validateUnary(u.Not, depth+1)
	}
	if u.Cmp == nil {
		return oops.Code("RULE_PARSE").Errorf("empty term")
	}
	if err := validateOperand(u.Cmp.Left, depth); err != nil {
		return err
	}
	if u.Cmp.Right != nil {
		return validateOperand(u.Cmp.Right, depth)
	}
	return nil
}

func validateOperand(o *Operand, depth int) error {
	switch {
	case o.Root != nil:
		if len(o.Root.Field) == 0 {
			return oops.Code("RULE_PARSE").Errorf("root lookup %q has no field selector", o.Root.Collection)
		}
		return validateExpression(o.Root.Index, depth+1)
	case o.Path != nil:
		if head := o.Path.Parts[0]; reservedHeads[head] {
			return oops.Code("RULE_PARSE").
				With("path", o.Path.String()).
				Errorf("reserved word %q cannot head an identifier path", head)
		}
		return nil
	case o.Group != nil:
		return validateExpression(o.Group, depth+1)
	default:
		return nil
	}
}
