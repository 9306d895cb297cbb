// Package postgres implements the repository interfaces on pgx. Every call
// is bounded by a per-call timeout so an unreachable backend fails the
// request with a retryable error instead of hanging.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flurs/keyserver/src/repositories"
)

// storageTimeout bounds every storage call.
const storageTimeout = 5 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storageTimeout)
}

// mapErr classifies a pgx error: no-rows becomes the caller's notFound
// sentinel, everything else is surfaced as retryable storage failure.
func mapErr(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("%w: %v", repositories.ErrStorageUnavailable, err)
}
