// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckpointerDefaultsInterval(t *testing.T) {
	c := NewCheckpointer(newTestDB(t), 0)
	if c.interval != DefaultCheckpointInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultCheckpointInterval)
	}
}

func TestCheckpointerRunsAndStops(t *testing.T) {
	db := newTestDB(t)

	// Write something so the checkpoint has work to flush.
	if _, err := db.SaveKillmail(context.Background(), sampleDetail(1), "hash", nil); err != nil {
		t.Fatalf("failed to seed killmail: %v", err)
	}

	c := NewCheckpointer(db, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	// Let at least one tick fire.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("checkpointer never stopped")
	}

	// The store must still be usable after checkpoints.
	exists, err := db.KillmailExists(context.Background(), 1)
	checkNoError(t, err)
	if !exists {
		t.Error("killmail missing after checkpoint")
	}
}
