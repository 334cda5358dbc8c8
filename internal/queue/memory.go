// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
)

// memoryQueueDepth bounds each kind's in-process buffer.
const memoryQueueDepth = 256

// requeueDelay spaces redeliveries in the in-memory queue; the broker
// does the equivalent with AckWait in the NATS implementation.
const baseRequeueDelay = time.Second

// MemoryQueue is an in-process queue with the same at-least-once
// contract as the NATS implementation. It backs unit tests and is not
// durable: a crash loses queued jobs, which the next scheduler pass
// re-enqueues.
type MemoryQueue struct {
	mu     sync.Mutex
	chans  map[JobKind]chan *Job
	closed bool
}

// NewMemoryQueue builds an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{chans: make(map[JobKind]chan *Job)}
}

func (q *MemoryQueue) channel(kind JobKind) chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.chans[kind]
	if !ok {
		ch = make(chan *Job, memoryQueueDepth)
		q.chans[kind] = ch
	}
	return ch
}

// Enqueue places a job on its kind's buffer.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.mu.Unlock()

	select {
	case q.channel(job.Kind) <- job:
		metrics.QueueMessages.WithLabelValues(string(job.Kind), "published").Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes jobs of one kind until ctx is cancelled. Requeued jobs
// come back on the same buffer after a short delay.
func (q *MemoryQueue) Run(ctx context.Context, kind JobKind, concurrency int, handle Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	ch := q.channel(kind)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-ch:
					if !ok {
						return
					}
					outcome := handle(ctx, job)
					metrics.QueueMessages.WithLabelValues(string(kind), outcome.String()).Inc()
					if outcome == NackRequeue {
						q.requeue(ctx, ch, job)
					}
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) requeue(ctx context.Context, ch chan *Job, job *Job) {
	t := time.NewTimer(jitter(baseRequeueDelay))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return
	}
	select {
	case ch <- job:
	default:
		logging.Warn().Str("job_id", job.ID).Msg("In-memory queue full, dropping requeued job")
	}
}

// Close marks the queue closed for publishers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
