// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "Pulseboard Access Rules", schema["title"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties")
	assert.Contains(t, props, "collections")
}

func TestValidateRulesFile_Valid(t *testing.T) {
	valid := []string{
		`
collections:
  devices:
    read: auth.uid == data.user_id
`,
		`
collections:
  devices:
    read: auth.uid == data.user_id
    write: auth.uid == data.user_id
  "telemetry_*":
    read: data.public == true
`,
		`
collections: {}
`,
	}

	for _, content := range valid {
		assert.NoError(t, ValidateRulesFile([]byte(content)), "content: %s", content)
	}
}

// Run with -race: the reload path validates concurrently (explicit Reload
// plus the ticker loop), so the lazily compiled schema must be safe to
// build and read from multiple goroutines.
func TestValidateRulesFile_Concurrent(t *testing.T) {
	content := []byte(`
collections:
  devices:
    read: auth.uid == data.user_id
`)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ValidateRulesFile(content))
		}()
	}
	wg.Wait()
}

func TestValidateRulesFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "empty file",
			content: "",
		},
		{
			name:    "broken yaml",
			content: "collections: [a, b",
		},
		{
			name:    "collections is a list",
			content: "collections: [devices]",
		},
		{
			name: "rule value is a list",
			content: `
collections:
  devices:
    read: [auth.uid == data.user_id]
`,
		},
		{
			name: "rule value is a map",
			content: `
collections:
  devices:
    read:
      expr: auth.uid == data.user_id
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateRulesFile([]byte(tt.content)))
		})
	}
}
