// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/lostsec/killfeed/internal/logging"
)

// retryWithBackoff executes fn with exponential backoff on transient
// failure, classified per the taxonomy in errors.go:
//   - transient: retry, doubling the delay, up to attempts tries
//   - rate-limited: wait the fixed cooldown without consuming an attempt
//   - anything else (not-found, auth, malformed): return immediately
//
// Waits are cancellable; a context cancelled mid-wait returns the
// context error.
func retryWithBackoff(ctx context.Context, attempts int, delay, cooldown429 time.Duration, fn func() error) error {
	var err error

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		switch ClassOf(err) {
		case ClassRateLimited:
			logging.Warn().Err(err).Dur("cooldown", cooldown429).Msg("Rate limited, cooling down")
			if werr := wait(ctx, cooldown429); werr != nil {
				return werr
			}
			// 429 does not count against the retry budget.
			attempt--
			continue
		case ClassTransient:
			if attempt < attempts-1 {
				logging.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", attempts).Dur("delay", delay).Msg("Retry attempt")
				if werr := wait(ctx, delay); werr != nil {
					return werr
				}
				delay *= 2
			}
		default:
			return err
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// wait blocks for d or until ctx is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
