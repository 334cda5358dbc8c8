// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lostsec/killfeed/internal/models"
)

func TestNewJobPopulatesIdentity(t *testing.T) {
	subject := models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}
	j := NewJob(KindArchiveSync, subject, true)

	if j.ID == "" || j.EventID == "" {
		t.Errorf("job identity incomplete: %+v", j)
	}
	if j.Kind != KindArchiveSync || !j.Backfill {
		t.Errorf("job fields = %+v", j)
	}
	if j.EnqueuedAt.IsZero() {
		t.Error("enqueued_at not set")
	}

	// ULIDs are time-ordered; two sequential jobs must sort.
	j2 := NewJob(KindArchiveSync, subject, false)
	if j2.ID <= j.ID {
		t.Errorf("job ids not monotonic: %s then %s", j.ID, j2.ID)
	}
}

func TestJobMarshalRoundTrip(t *testing.T) {
	j := NewJob(KindOfficialSync, models.Subject{Kind: models.SubjectCorporation, EntityID: 98000001}, false)

	msg, err := j.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UUID != j.ID {
		t.Errorf("message uuid = %q, want job id %q", msg.UUID, j.ID)
	}

	got, err := UnmarshalJob(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Subject != j.Subject || got.Kind != j.Kind || got.EventID != j.EventID {
		t.Errorf("round trip = %+v, want %+v", got, j)
	}
}

func TestUnmarshalJobRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalJob(message.NewMessage("x", []byte("not json"))); err == nil {
		t.Error("expected error for undecodable payload")
	}
	if _, err := UnmarshalJob(message.NewMessage("x", []byte(`{"id":"a"}`))); err == nil {
		t.Error("expected error for job without kind")
	}
}

func TestKindTopics(t *testing.T) {
	if got := KindArchiveSync.Topic(); got != "killfeed.jobs.archive_sync" {
		t.Errorf("topic = %q", got)
	}
	if got := KindOfficialSync.Topic(); got != "killfeed.jobs.official_sync" {
		t.Errorf("topic = %q", got)
	}
}

func TestMemoryQueueDeliversJobs(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []int64
	done := make(chan struct{})

	go q.Run(ctx, KindArchiveSync, 1, func(_ context.Context, j *Job) Outcome {
		mu.Lock()
		got = append(got, j.Subject.EntityID)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return Ack
	})

	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(ctx, NewJob(KindArchiveSync, models.Subject{Kind: models.SubjectCharacter, EntityID: i}, false)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("delivery order = %v", got)
	}
}

func TestMemoryQueueRedeliversOnNack(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int64
	done := make(chan struct{})

	go q.Run(ctx, KindArchiveSync, 1, func(_ context.Context, _ *Job) Outcome {
		if attempts.Add(1) == 1 {
			return NackRequeue
		}
		close(done)
		return Ack
	})

	if err := q.Enqueue(ctx, NewJob(KindArchiveSync, models.Subject{Kind: models.SubjectCharacter, EntityID: 1}, false)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never redelivered")
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestMemoryQueueDropDoesNotRedeliver(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int64
	go q.Run(ctx, KindArchiveSync, 1, func(_ context.Context, _ *Job) Outcome {
		attempts.Add(1)
		return NackDrop
	})

	if err := q.Enqueue(ctx, NewJob(KindArchiveSync, models.Subject{Kind: models.SubjectCharacter, EntityID: 1}, false)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want exactly 1", n)
	}
}

func TestMemoryQueueEnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue()
	q.Close()
	if err := q.Enqueue(context.Background(), NewJob(KindArchiveSync, models.Subject{Kind: models.SubjectGlobal}, false)); err == nil {
		t.Error("expected error after close")
	}
}
