// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
)

const maxRevisionAttempts = 3

// updateWithRetry runs fn against the latest stored value and writes it back
// with a revision check. A conflicting write re-reads and re-applies fn. fn
// reports whether it changed anything; an unchanged value is not written.
func updateWithRetry[T any](
	ctx context.Context,
	what string,
	get func(ctx context.Context) (*T, uint64, error),
	put func(ctx context.Context, value *T, revision uint64) error,
	fn func(*T) (bool, error),
) (*T, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRevisionAttempts; attempt++ {
		value, revision, err := get(ctx)
		if err != nil {
			return nil, false, err
		}

		changed, err := fn(value)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return value, false, nil
		}

		err = put(ctx, value, revision)
		if err == nil {
			return value, true, nil
		}
		if domain.GetErrorType(err) != domain.ErrorTypeConflict {
			return nil, false, err
		}
		lastErr = err
		slog.DebugContext(ctx, "revision conflict, retrying", "target", what, "attempt", attempt)
	}
	return nil, false, domain.NewConflictError(
		fmt.Sprintf("%s kept changing, gave up after %d attempts", what, maxRevisionAttempts), lastErr)
}
