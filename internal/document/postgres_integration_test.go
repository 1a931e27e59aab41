// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

//go:build integration

package document_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pulseboard/pulseboard/internal/document"
)

// setupPostgresContainer starts a PostgreSQL container, runs migrations,
// and returns a connected store.
func setupPostgresContainer() (*document.Postgres, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pulseboard_test"),
		postgres.WithUsername("pulseboard"),
		postgres.WithPassword("pulseboard"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := document.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	store, err := document.NewPostgres(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		store.Close()
		_ = container.Terminate(ctx)
	}

	return store, cleanup, nil
}

var _ = Describe("Postgres document store", func() {
	var store *document.Postgres
	var cleanup func()

	BeforeEach(func() {
		var err error
		store, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Put and FetchByID", func() {
		It("round-trips a document", func() {
			ctx := context.Background()

			id, err := store.Put(ctx, "devices", document.Document{
				"id":           "d1",
				"user_id":      "u1",
				"device_token": "tok-1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("d1"))

			doc, err := store.FetchByID(ctx, "devices", "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["user_id"]).To(Equal("u1"))
			Expect(doc["device_token"]).To(Equal("tok-1"))
			Expect(doc["id"]).To(Equal("d1"))
		})

		It("assigns a ULID when the document has no id", func() {
			ctx := context.Background()

			id, err := store.Put(ctx, "devices", document.Document{"user_id": "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HaveLen(26))

			doc, err := store.FetchByID(ctx, "devices", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["id"]).To(Equal(id))
		})

		It("upserts on conflict", func() {
			ctx := context.Background()

			_, err := store.Put(ctx, "devices", document.Document{"id": "d1", "name": "before"})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Put(ctx, "devices", document.Document{"id": "d1", "name": "after"})
			Expect(err).NotTo(HaveOccurred())

			doc, err := store.FetchByID(ctx, "devices", "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["name"]).To(Equal("after"))
		})

		It("keeps collections separate", func() {
			ctx := context.Background()

			_, err := store.Put(ctx, "devices", document.Document{"id": "x", "kind": "device"})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Put(ctx, "dashboards", document.Document{"id": "x", "kind": "dashboard"})
			Expect(err).NotTo(HaveOccurred())

			doc, err := store.FetchByID(ctx, "devices", "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["kind"]).To(Equal("device"))

			doc, err = store.FetchByID(ctx, "dashboards", "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["kind"]).To(Equal("dashboard"))
		})

		It("returns ErrNotFound for missing documents", func() {
			_, err := store.FetchByID(context.Background(), "devices", "missing")
			Expect(err).To(MatchError(document.ErrNotFound))
		})
	})

	Describe("Ping", func() {
		It("succeeds against a live database", func() {
			Expect(store.Ping(context.Background())).To(Succeed())
		})
	})
})
