// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package supervisor

import (
	"context"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/queue"
)

// ConsumerService runs one job-kind consumer as a suture service. When
// the queue connection drops, Serve returns and suture restarts the
// consumer with backoff.
type ConsumerService struct {
	queue       queue.Queue
	kind        queue.JobKind
	concurrency int
	handle      queue.Handler
}

// NewConsumerService wraps a job handler as a supervised consumer.
func NewConsumerService(q queue.Queue, kind queue.JobKind, concurrency int, handle queue.Handler) *ConsumerService {
	return &ConsumerService{queue: q, kind: kind, concurrency: concurrency, handle: handle}
}

// String identifies the service in supervisor logs.
func (s *ConsumerService) String() string { return "consumer-" + string(s.kind) }

// Serve implements suture.Service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	logging.Info().
		Str("kind", string(s.kind)).
		Int("concurrency", s.concurrency).
		Msg("Job consumer started")
	return s.queue.Run(ctx, s.kind, s.concurrency, s.handle)
}
