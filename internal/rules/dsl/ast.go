// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

// Package dsl defines the AST types for the per-resource access-rule
// expression language and provides a parser built with participle. The
// grammar is closed: literals, identifier paths, root lookups, equality
// comparisons, and boolean combinators. No loops, calls, or assignment.
package dsl

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer defines the token types for rule expressions. Multi-character
// operators must precede their prefixes (=== before ==) so the longest
// match wins.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"|'[^']*'`},
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "OpEqStrict", Pattern: `===`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "OpNe", Pattern: `!=`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[()\[\]]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expression is a disjunction of and-terms. "or" is left-associative and
// evaluated with short-circuiting.
type Expression struct {
	Pos lexer.Position `parser:"" json:"-"`
	Or  []*AndTerm     `parser:"@@ ('or' @@)*" json:"or"`
}

// AndTerm is a conjunction of unary terms.
type AndTerm struct {
	Pos lexer.Position `parser:"" json:"-"`
	And []*UnaryTerm   `parser:"@@ ('and' @@)*" json:"and"`
}

// UnaryTerm is either a negation or a comparison. "not" binds tighter than
// "and" and "or" but looser than a comparison, so "not a == b" reads as
// "not (a == b)".
type UnaryTerm struct {
	Pos lexer.Position `parser:"" json:"-"`
	Not *UnaryTerm     `parser:"  'not' @@" json:"not,omitempty"`
	Cmp *Comparison    `parser:"| @@" json:"cmp,omitempty"`
}

// Comparison is an operand optionally compared against another. With no
// operator the operand itself is interpreted as a boolean.
type Comparison struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Left  *Operand       `parser:"@@" json:"left"`
	Op    string         `parser:"( @(OpEqStrict | OpEq | OpNe)" json:"op,omitempty"`
	Right *Operand       `parser:"  @@ )?" json:"right,omitempty"`
}

// Operand is a literal, an identifier path, a root lookup, or a
// parenthesized sub-expression. Root must precede Path so that
// "root.col[...]" is not consumed as a plain path.
type Operand struct {
	Pos    lexer.Position `parser:"" json:"-"`
	Bool   *string        `parser:"  @('true' | 'false')" json:"bool,omitempty"`
	Str    *string        `parser:"| @String" json:"str,omitempty"`
	Number *float64       `parser:"| @Number" json:"number,omitempty"`
	Root   *RootRef       `parser:"| @@" json:"root,omitempty"`
	Path   *PathRef       `parser:"| @@" json:"path,omitempty"`
	Group  *Expression    `parser:"| '(' @@ ')'" json:"group,omitempty"`
}

// RootRef is a cross-collection reference: root.<collection>[<index>].<field>.
// The index is a full sub-expression that must evaluate to a scalar
// identifier; it may itself contain root lookups, which is what enables
// ownership chains (widget -> dashboard -> user).
type RootRef struct {
	Pos        lexer.Position `parser:"" json:"-"`
	Collection string         `parser:"'root' Dot @Ident" json:"collection"`
	Index      *Expression    `parser:"'[' @@ ']'" json:"index"`
	Field      []string       `parser:"Dot @Ident (Dot @Ident)*" json:"field"`
}

// PathRef is a dotted identifier path such as auth.uid or data.device_id.
// At least two segments are required; the head names the value bag.
type PathRef struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Parts []string       `parser:"@Ident (Dot @Ident)+" json:"parts"`
}

// NewParser constructs a participle parser for the expression grammar.
func NewParser() (*participle.Parser[Expression], error) {
	return participle.Build[Expression](
		participle.Lexer(exprLexer),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
}

// --- Diagnostic rendering ---
//
// String methods render a canonical form of the expression. They are used
// in failure logs to identify the failing sub-expression, so they must be
// stable and readable rather than byte-faithful to the source.

func (e *Expression) String() string {
	parts := make([]string, 0, len(e.Or))
	for _, t := range e.Or {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, " or ")
}

func (t *AndTerm) String() string {
	parts := make([]string, 0, len(t.And))
	for _, u := range t.And {
		parts = append(parts, u.String())
	}
	return strings.Join(parts, " and ")
}

func (u *UnaryTerm) String() string {
	if u.Not != nil {
		return "not " + u.Not.String()
	}
	return u.Cmp.String()
}

func (c *Comparison) String() string {
	if c.Op == "" {
		return c.Left.String()
	}
	return c.Left.String() + " " + c.Op + " " + c.Right.String()
}

func (o *Operand) String() string {
	switch {
	case o.Bool != nil:
		return *o.Bool
	case o.Str != nil:
		return quoteString(*o.Str)
	case o.Number != nil:
		return strconv.FormatFloat(*o.Number, 'f', -1, 64)
	case o.Root != nil:
		return o.Root.String()
	case o.Path != nil:
		return o.Path.String()
	case o.Group != nil:
		return "(" + o.Group.String() + ")"
	default:
		return "<invalid>"
	}
}

// quoteString renders a string literal. The grammar has no escape
// sequences, so the quote style is chosen to avoid the content; a string
// containing both quote kinds has no canonical rendering.
func quoteString(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	return "'" + s + "'"
}

func (r *RootRef) String() string {
	return "root." + r.Collection + "[" + r.Index.String() + "]." + strings.Join(r.Field, ".")
}

func (p *PathRef) String() string {
	return strings.Join(p.Parts, ".")
}
