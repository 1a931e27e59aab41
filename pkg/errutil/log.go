// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

// Package errutil carries small helpers for working with coded errors in
// logs and tests.
package errutil

import (
	"log/slog"
	"sort"

	"github.com/samber/oops"
)

// LogError logs err at error level. Coded errors contribute their code and
// contextual attributes (rule source, collection, document id) as
// structured fields; plain errors log their message only.
func LogError(logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != "" {
		attrs = append(attrs, "code", code)
	}

	ctx := oopsErr.Context()
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, ctx[k])
	}

	logger.Error(msg, attrs...)
}
