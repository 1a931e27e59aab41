// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package document

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-memory Store used in tests and local development. It
// counts fetches per (collection, id) so tests can assert that evaluation
// short-circuits and memoizes lookups.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
	fetches     map[string]int

	// FetchDelay, when non-zero, is applied before every fetch. Lets
	// tests exercise deadline behavior.
	FetchDelay time.Duration

	// FetchErr, when non-nil, is returned by every fetch. Simulates a
	// transient store failure.
	FetchErr error
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Document),
		fetches:     make(map[string]int),
	}
}

// FetchByID returns a normalized copy of the stored document.
func (m *Memory) FetchByID(ctx context.Context, collection, id string) (Document, error) {
	if m.FetchDelay > 0 {
		select {
		case <-time.After(m.FetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches[collection+"/"+id]++

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	docs, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Normalize(id, doc), nil
}

// Put upserts a document, assigning a ULID when it carries no id.
func (m *Memory) Put(_ context.Context, collection string, doc Document) (string, error) {
	id := documentID(doc)
	if id == "" {
		id = ulid.Make().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	copied := make(Document, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	docs[id] = copied
	return id, nil
}

// FetchCount returns how many times (collection, id) has been fetched.
func (m *Memory) FetchCount(collection, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[collection+"/"+id]
}

// TotalFetches returns the number of fetches across all documents.
func (m *Memory) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.fetches {
		total += n
	}
	return total
}

// ResetCounts clears fetch counters without touching stored documents.
func (m *Memory) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = make(map[string]int)
}
