// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

// Package document defines the document store consumed by the access-rules
// engine and provides PostgreSQL and in-memory implementations. Documents
// are schemaless JSON objects grouped into named collections.
package document

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that no document exists for a (collection, id) pair.
// It is distinct from transient store errors: rule evaluation treats a
// missing document as an absent value, while a store error denies outright.
var ErrNotFound = errors.New("document not found")

// Document is a decoded JSON object. Values are the usual encoding/json
// shapes: string, float64, bool, nil, map[string]any, []any. Documents
// handed to the rules engine are snapshots; evaluation never writes
// through them.
type Document map[string]any

// Store is the document storage interface the rules engine consumes.
type Store interface {
	// FetchByID returns the document for (collection, id), or ErrNotFound.
	// Any other error is transient and must be treated as a failure, not
	// as absence.
	FetchByID(ctx context.Context, collection, id string) (Document, error)

	// Put upserts a document and returns its id. Used for seeding and
	// tests; the rules engine itself never mutates the store.
	Put(ctx context.Context, collection string, doc Document) (string, error)
}

// Normalize returns a copy of the document with store-level identifiers
// flattened to strings under the "id" key. Mongo-era exports carry "_id";
// both spellings end up readable from rules as data.id.
func Normalize(id string, body map[string]any) Document {
	doc := make(Document, len(body)+1)
	for k, v := range body {
		if k == "_id" {
			continue
		}
		doc[k] = normalizeValue(v)
	}
	if id != "" {
		doc["id"] = id
	} else if raw, ok := body["_id"]; ok {
		doc["id"] = fmt.Sprintf("%v", raw)
	}
	return doc
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
