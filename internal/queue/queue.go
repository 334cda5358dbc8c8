// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package queue

import "context"

// Queue is the work queue contract the orchestrators run against.
// NatsQueue is the durable production implementation; MemoryQueue backs
// tests and ephemeral single-process runs.
type Queue interface {
	// Enqueue publishes a job for its kind's consumer.
	Enqueue(ctx context.Context, job *Job) error
	// Run consumes jobs of one kind with bounded concurrency until ctx
	// is cancelled.
	Run(ctx context.Context, kind JobKind, concurrency int, handle Handler) error
	// Close releases broker resources.
	Close() error
}

var (
	_ Queue = (*NatsQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
