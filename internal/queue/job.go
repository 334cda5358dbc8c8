// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package queue is the durable work queue between the sync scheduler
// and the ingestion orchestrators. Jobs are at-least-once: a job left
// un-acked is redelivered by the broker, and the persistence layer's
// deduplication makes redelivery harmless.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/lostsec/killfeed/internal/models"
)

// JobKind selects which orchestrator consumes a job.
type JobKind string

// Job kinds and their queue topics.
const (
	KindArchiveSync  JobKind = "archive_sync"
	KindOfficialSync JobKind = "official_sync"
)

// Topic returns the queue topic a kind is published on.
func (k JobKind) Topic() string {
	return "killfeed.jobs." + string(k)
}

// Job is one unit of sync work: bring one subject up to date from one
// upstream.
type Job struct {
	// ID is a ULID: sortable by creation time, used as the broker
	// message id for deduplication.
	ID string `json:"id"`
	// EventID correlates log lines across retries of the same job.
	EventID string `json:"event_id"`

	Kind    JobKind        `json:"kind"`
	Subject models.Subject `json:"subject"`

	// Backfill requests a full archive walk instead of an incremental
	// stop-at-seen run.
	Backfill bool `json:"backfill,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob builds a job for a subject.
func NewJob(kind JobKind, subject models.Subject, backfill bool) *Job {
	return &Job{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		EventID:    uuid.New().String(),
		Kind:       kind,
		Subject:    subject,
		Backfill:   backfill,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Marshal encodes the job as a watermill message. The job ID becomes
// the message UUID so broker-side deduplication keys on it.
func (j *Job) Marshal() (*message.Message, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}
	msg := message.NewMessage(j.ID, payload)
	msg.Metadata.Set("kind", string(j.Kind))
	return msg, nil
}

// UnmarshalJob decodes a watermill message back into a Job.
func UnmarshalJob(msg *message.Message) (*Job, error) {
	var j Job
	if err := json.Unmarshal(msg.Payload, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job message %s: %w", msg.UUID, err)
	}
	if j.Kind == "" {
		return nil, fmt.Errorf("job message %s has no kind", msg.UUID)
	}
	return &j, nil
}

// Outcome is the orchestrator's verdict on a processed job.
type Outcome int

const (
	// Ack completes the job; it is never redelivered.
	Ack Outcome = iota
	// NackRequeue returns the job for redelivery with broker backoff.
	NackRequeue
	// NackDrop discards the job without retry, used for auth failures
	// and malformed payloads where redelivery cannot help.
	NackDrop
)

// String returns the outcome label used in metrics.
func (o Outcome) String() string {
	switch o {
	case Ack:
		return "acked"
	case NackRequeue:
		return "requeued"
	case NackDrop:
		return "dropped"
	default:
		return "unknown"
	}
}

// Handler processes one job and reports what to do with it.
type Handler func(ctx context.Context, job *Job) Outcome

// jitter spreads redeliveries so a thundering herd of requeued jobs
// does not hit a recovering upstream at once.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d/2+1)))
}
