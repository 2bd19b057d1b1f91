// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samber/oops"
)

// Attrs returns slog attributes describing err. oops errors contribute their code
// and context, the latter as a "context" group with sorted keys.
func Attrs(err error) []any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{"error", err.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		group := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			group = append(group, k, ctx[k])
		}
		attrs = append(attrs, slog.Group("context", group...))
	}
	return attrs
}

// LogError logs err at error level with its code and context.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, Attrs(err)...)
}

// LogWarnContext logs err at warn level, keeping trace ids from ctx.
func LogWarnContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.WarnContext(ctx, msg, Attrs(err)...)
}
