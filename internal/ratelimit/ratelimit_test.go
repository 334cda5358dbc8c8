// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestExecuteRunsOperation(t *testing.T) {
	l := New("test", 1000, 0)
	defer l.Close()

	ran := false
	err := l.Execute(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("operation never ran")
	}
}

func TestExecutePacesReleases(t *testing.T) {
	// 10 operations at 100/s: the first leaves immediately, the rest at
	// 10ms spacing, so the batch needs at least ~90ms.
	l := New("test", 100, 0)
	defer l.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Execute(context.Background(), func(context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("10 ops at 100/s finished in %v, want >= ~90ms", elapsed)
	}
}

func TestExecuteFIFOOrder(t *testing.T) {
	l := New("test", 200, 0)
	defer l.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Execute(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Sequential enqueue so the FIFO order is knowable.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("release order = %v, want ascending", order)
		}
	}
}

func TestExecuteErrorIsolation(t *testing.T) {
	l := New("test", 1000, 0)
	defer l.Close()

	boom := errors.New("boom")
	if err := l.Execute(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("first op error = %v, want boom", err)
	}

	// The failure must not poison the limiter for later callers.
	if err := l.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("second op error = %v, want nil", err)
	}
}

func TestExecuteRespectsMinGap(t *testing.T) {
	l := New("test", 1000, 25*time.Millisecond)
	defer l.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("3 ops with 25ms gap finished in %v, want >= 50ms", elapsed)
	}
}

func TestExecuteCancelledWhileQueued(t *testing.T) {
	l := New("test", 1, 0)
	defer l.Close()

	// Burn the single token so the next caller queues.
	l.Execute(context.Background(), func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Execute(ctx, func(context.Context) error {
			t.Error("cancelled operation must not run")
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller never returned")
	}
}

func TestDoReturnsValue(t *testing.T) {
	l := New("test", 1000, 0)
	defer l.Close()

	got, err := Do(context.Background(), l, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	boom := errors.New("boom")
	_, err = Do(context.Background(), l, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	l := New("test", 1000, 0)
	l.Close()

	// Give the dispatcher a moment to observe the close.
	time.Sleep(5 * time.Millisecond)

	err := l.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
