// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"

	"github.com/pulseboard/pulseboard/internal/document"
)

// rootResolver resolves root.<collection>[id].<field> references against
// the document store. Fetched documents are memoized for the lifetime of
// one evaluation so a chain referenced twice (ownership check plus token
// fallback) costs one fetch per unique (collection, id) pair. The memo is
// safe for concurrent population: a second request for an in-flight pair
// waits for the first fetch instead of issuing its own.
type rootResolver struct {
	store document.Store

	mu   sync.Mutex
	memo map[memoKey]*fetchResult
}

type memoKey struct {
	collection string
	id         string
}

type fetchResult struct {
	done chan struct{}
	doc  document.Document // nil when the document does not exist
	err  error
}

func newRootResolver(store document.Store) *rootResolver {
	return &rootResolver{
		store: store,
		memo:  make(map[memoKey]*fetchResult),
	}
}

// resolve returns the document for (collection, id). A missing document
// returns (nil, nil): the reference is absent, which is not an error. A
// store failure returns an error, which denies the whole evaluation.
func (r *rootResolver) resolve(ctx context.Context, collection, id string) (document.Document, error) {
	key := memoKey{collection: collection, id: id}

	r.mu.Lock()
	if res, ok := r.memo[key]; ok {
		r.mu.Unlock()
		select {
		case <-res.done:
			return res.doc, res.err
		case <-ctx.Done():
			return nil, oops.Code("ROOT_TIMEOUT").
				With("collection", collection).With("id", id).
				Wrap(ctx.Err())
		}
	}

	res := &fetchResult{done: make(chan struct{})}
	r.memo[key] = res
	r.mu.Unlock()

	doc, err := r.store.FetchByID(ctx, collection, id)
	switch {
	case errors.Is(err, document.ErrNotFound):
		recordRootFetch(collection, "miss")
		res.doc, res.err = nil, nil
	case err != nil:
		recordRootFetch(collection, "error")
		res.err = oops.Code("ROOT_FETCH").
			With("collection", collection).With("id", id).
			Wrapf(err, "root lookup fetch failed")
	default:
		recordRootFetch(collection, "hit")
		res.doc = doc
	}
	close(res.done)

	return res.doc, res.err
}
