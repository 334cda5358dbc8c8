// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package ingest

import (
	"context"
	"time"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/upstream"
)

// streamErrorDelay spaces polls after a transient failure so a flapping
// endpoint is not hammered at the poll rate.
const streamErrorDelay = 5 * time.Second

// PollSource is the real-time push upstream: one reference per poll,
// nil when the poll window expired empty.
type PollSource interface {
	Next(ctx context.Context) (*models.KillmailRef, error)
	Cooldown429() time.Duration
}

var _ PollSource = (*upstream.RedisQClient)(nil)

// Streamer runs the real-time ingestion loop. Polling is strictly
// sequential: the upstream queue delivers each killmail to exactly one
// consumer, so a second concurrent poll would split the stream against
// itself.
type Streamer struct {
	source PollSource
	saver  *Saver
}

// NewStreamer builds the real-time stream loop.
func NewStreamer(source PollSource, saver *Saver) *Streamer {
	return &Streamer{source: source, saver: saver}
}

// String identifies the service in supervisor logs.
func (s *Streamer) String() string { return "redisq-streamer" }

// Serve polls until ctx is cancelled. A single bad killmail never stops
// the loop; rate limiting pauses it for the upstream's cooldown.
func (s *Streamer) Serve(ctx context.Context) error {
	logging.Info().Msg("Real-time killmail stream started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ref, err := s.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.pause(ctx, err); err != nil {
				return err
			}
			continue
		}
		if ref == nil {
			// Empty poll window. Go straight back to listening.
			continue
		}

		if _, err := s.saver.Ingest(ctx, *ref, "redisq"); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().
				Err(err).
				Int64("killmail_id", ref.ID).
				Msg("Failed to ingest streamed killmail")
		}
	}
}

// pause waits out an upstream failure. 429 gets the upstream's own
// cooldown; everything else a short fixed delay.
func (s *Streamer) pause(ctx context.Context, cause error) error {
	delay := streamErrorDelay
	if upstream.IsRateLimited(cause) {
		delay = s.source.Cooldown429()
		logging.Warn().
			Dur("cooldown", delay).
			Msg("Stream rate limited, cooling down")
	} else {
		logging.Error().Err(cause).Msg("Stream poll failed")
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
