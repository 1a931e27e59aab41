// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidExpressions(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{
			name:   "ownership comparison",
			source: "auth.uid == data.user_id",
		},
		{
			name:   "strict equality synonym",
			source: "auth.uid === data.user_id",
		},
		{
			name:   "inequality",
			source: "data.status != \"archived\"",
		},
		{
			name:   "token fallback with or",
			source: "auth.uid == data.user_id or data.device_token == root.devices[data.id].device_token",
		},
		{
			name:   "chained root lookup",
			source: "auth.uid == root.users[root.dashboards[data.dashboard_id].user_id].id",
		},
		{
			name:   "negation",
			source: "not data.locked == true",
		},
		{
			name:   "parenthesized groups",
			source: "(auth.uid == data.user_id or data.shared == true) and not data.deleted == true",
		},
		{
			name:   "bare boolean field",
			source: "data.public",
		},
		{
			name:   "boolean literal",
			source: "true",
		},
		{
			name:   "number literal comparison",
			source: "data.version == 2",
		},
		{
			name:   "single quoted string",
			source: "data.kind == 'gauge'",
		},
		{
			name:   "nested field path",
			source: "auth.uid == data.meta.owner_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.source)
			require.NoError(t, err)
			require.NotNil(t, expr)
		})
	}
}

func TestParse_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{
			name:   "empty source",
			source: "",
		},
		{
			name:   "dangling operator",
			source: "auth.uid ==",
		},
		{
			name:   "unbalanced parenthesis",
			source: "(auth.uid == data.user_id",
		},
		{
			name:   "root lookup without field",
			source: "root.devices[data.id] == data.token",
		},
		{
			name:   "root lookup without index",
			source: "root.devices.token == data.token",
		},
		{
			name:   "bare identifier",
			source: "devices",
		},
		{
			name:   "reserved word as path head",
			source: "or.field == data.x",
		},
		{
			name:   "double operator",
			source: "auth.uid == == data.user_id",
		},
		{
			name:   "assignment is not comparison",
			source: "auth.uid = data.user_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.source)
			assert.Error(t, err)
		})
	}
}

func TestParse_DepthLimit(t *testing.T) {
	// Build an expression nested beyond MaxNestingDepth.
	deep := "auth.uid == data.user_id"
	for range MaxNestingDepth + 1 {
		deep = "(" + deep + ")"
	}

	_, err := Parse(deep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestParse_DeterministicAST(t *testing.T) {
	source := "auth.uid == data.user_id or data.shared == true"

	a, err := Parse(source)
	require.NoError(t, err)
	b, err := Parse(source)
	require.NoError(t, err)

	assert.Equal(t, a.String(), b.String())
}

func TestExpression_String(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{
			source: "auth.uid == data.user_id",
			want:   "auth.uid == data.user_id",
		},
		{
			source: "auth.uid==data.user_id   or   data.shared == true",
			want:   "auth.uid == data.user_id or data.shared == true",
		},
		{
			source: "not data.locked == true",
			want:   "not data.locked == true",
		},
		{
			source: "data.token == root.devices[data.id].token",
			want:   "data.token == root.devices[data.id].token",
		},
		{
			source: "data.kind == 'gauge'",
			want:   `data.kind == "gauge"`,
		},
		{
			source: "data.version == 2",
			want:   "data.version == 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			expr, err := Parse(tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.String())
		})
	}
}

func TestParse_RootRefStructure(t *testing.T) {
	expr, err := Parse("auth.uid == root.dashboards[data.dashboard_id].user_id")
	require.NoError(t, err)

	require.Len(t, expr.Or, 1)
	require.Len(t, expr.Or[0].And, 1)
	cmp := expr.Or[0].And[0].Cmp
	require.NotNil(t, cmp)
	require.NotNil(t, cmp.Right)
	require.NotNil(t, cmp.Right.Root)

	root := cmp.Right.Root
	assert.Equal(t, "dashboards", root.Collection)
	assert.Equal(t, []string{"user_id"}, root.Field)
	assert.Equal(t, "data.dashboard_id", root.Index.String())
}

func TestParse_LongOrChain(t *testing.T) {
	// Wide expressions are fine; only nesting depth is bounded.
	terms := make([]string, 64)
	for i := range terms {
		terms[i] = "auth.uid == data.user_id"
	}
	expr, err := Parse(strings.Join(terms, " or "))
	require.NoError(t, err)
	assert.Len(t, expr.Or, 64)
}
