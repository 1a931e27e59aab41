// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/pkg/errutil"
)

func TestCompiler_CachesBySource(t *testing.T) {
	c := NewCompiler()

	first, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)

	second, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)

	// Same source must return the identical cached entry.
	assert.Same(t, first, second)

	other, err := c.Compile("auth.uid == data.owner_id")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestCompiler_SyntaxErrorNotCached(t *testing.T) {
	c := NewCompiler()

	_, err := c.Compile("auth.uid ==")
	require.Error(t, err)

	// A failing source keeps failing; no partial entry sneaks into the cache.
	_, err = c.Compile("auth.uid ==")
	assert.Error(t, err)
}

func TestCompiler_GenerationChangeClearsCache(t *testing.T) {
	c := NewCompiler()

	first, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)

	c.SetKnownCollections([]string{"devices"}, 2)

	second, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)

	// New generation, new cache entry.
	assert.NotSame(t, first, second)
}

func TestCompiler_SameGenerationKeepsCache(t *testing.T) {
	c := NewCompiler()
	c.SetKnownCollections([]string{"devices"}, 1)

	first, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)

	// Re-announcing the same generation must not invalidate anything.
	c.SetKnownCollections([]string{"devices"}, 1)

	second, err := c.Compile("auth.uid == data.user_id")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCompiler_UnknownRootCollection(t *testing.T) {
	c := NewCompiler()
	c.SetKnownCollections([]string{"devices", "users"}, 1)

	_, err := c.Compile("auth.uid == root.widgets[data.widget_id].user_id")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "RULE_UNKNOWN_COLLECTION")
}

func TestCompiler_KnownRootCollection(t *testing.T) {
	c := NewCompiler()
	c.SetKnownCollections([]string{"devices", "users"}, 1)

	_, err := c.Compile("auth.uid == root.users[data.user_id].id")
	assert.NoError(t, err)
}

func TestCompiler_NestedRootCollectionsChecked(t *testing.T) {
	c := NewCompiler()
	c.SetKnownCollections([]string{"users", "dashboards"}, 1)

	// The widget lookup is nested inside the index expression and must
	// still be validated.
	_, err := c.Compile("auth.uid == root.users[root.widgets[data.id].user_id].id")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "RULE_UNKNOWN_COLLECTION")
}

func TestCompiler_EmptyKnownSetAllowsAll(t *testing.T) {
	c := NewCompiler()

	_, err := c.Compile("auth.uid == root.anything[data.id].user_id")
	assert.NoError(t, err)
}

func TestCompiler_CompilationIsPure(t *testing.T) {
	a := NewCompiler()
	b := NewCompiler()

	source := "auth.uid == data.user_id or data.shared == true"

	ca, err := a.Compile(source)
	require.NoError(t, err)
	cb, err := b.Compile(source)
	require.NoError(t, err)

	// Independent compilers produce structurally identical ASTs.
	assert.Equal(t, ca.Expr.String(), cb.Expr.String())
}
