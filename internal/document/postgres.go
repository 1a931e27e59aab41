// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package document

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Retry policy for transient database failures.
const (
	retryInitialBackoff = 50 * time.Millisecond
	retryMaxAttempts    = 3
)

// poolIface is the subset of pgxpool.Pool the store uses. It exists so
// unit tests can substitute pgxmock.
type poolIface interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements Store on a documents table with a jsonb body column.
type Postgres struct {
	pool poolIface
}

// Compile-time check that Postgres implements Store.
var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool to the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrapf(err, "connecting document store")
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller retains ownership
// of the pool's lifecycle.
func NewPostgresFromPool(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// Close closes the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping verifies connectivity. Used by the readiness probe.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("DOC_STORE").Wrap(err)
	}
	return nil
}

// FetchByID returns the document for (collection, id). Transient failures
// (connection drops, admin shutdown) are retried with exponential backoff;
// ErrNotFound is returned immediately and never retried.
func (s *Postgres) FetchByID(ctx context.Context, collection, id string) (Document, error) {
	var doc Document

	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewExponential(retryInitialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body []byte
		err := s.pool.QueryRow(ctx,
			`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
			collection, id,
		).Scan(&body)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return oops.Code("DOC_CORRUPT").
				With("collection", collection).With("id", id).
				Wrapf(err, "decoding document body")
		}
		doc = Normalize(id, raw)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("DOC_STORE").
			With("collection", collection).With("id", id).
			Wrapf(err, "fetching document")
	}

	return doc, nil
}

// Put upserts a document. When the document carries no id, a new ULID is
// assigned. The id is stored in the key column only; the body keeps the
// caller's fields as-is.
func (s *Postgres) Put(ctx context.Context, collection string, doc Document) (string, error) {
	id := documentID(doc)
	if id == "" {
		id = ulid.Make().String()
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", oops.Code("DOC_ENCODE").With("collection", collection).Wrap(err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, body, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id) DO UPDATE SET body = $3, updated_at = now()`,
		collection, id, body,
	)
	if err != nil {
		return "", oops.Code("DOC_STORE").
			With("collection", collection).With("id", id).
			Wrapf(err, "upserting document")
	}

	return id, nil
}

// documentID extracts the id a caller embedded in the document, accepting
// both "id" and the Mongo-era "_id" spelling.
func documentID(doc Document) string {
	for _, key := range []string{"id", "_id"} {
		if v, ok := doc[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// isTransient reports whether a database error is worth retrying.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CrashShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	return pgconn.SafeToRetry(err)
}
