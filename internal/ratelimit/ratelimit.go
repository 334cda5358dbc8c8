// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package ratelimit gates outbound upstream calls. Each upstream gets
// its own Limiter instance; rate rules differ per upstream and must
// never be shared across them.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/lostsec/killfeed/internal/logging"
)

// ErrClosed is returned by Execute after Close has been called.
var ErrClosed = errors.New("rate limiter closed")

// queueDepth bounds the number of operations waiting inside the
// limiter. Enqueueing past the bound blocks the caller; operations are
// delayed, never dropped.
const queueDepth = 1024

// Operation is a unit of rate-limited work.
type Operation func(ctx context.Context) error

type pending struct {
	ctx   context.Context
	ready chan error
}

// Limiter releases queued operations in FIFO order at a configured
// maximum rate plus a minimum inter-operation delay. A single
// dispatcher goroutine owns the release order, so no more than the
// configured number of operations leave the limiter in any one-second
// window regardless of how many callers are blocked in Execute.
type Limiter struct {
	name   string
	pace   *rate.Limiter
	minGap time.Duration
	queue  chan *pending
	done   chan struct{}
}

// New constructs a limiter releasing at most perSecond operations per
// second, with at least minGap between consecutive releases. The
// dispatcher goroutine runs until Close.
func New(name string, perSecond int, minGap time.Duration) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	l := &Limiter{
		name:   name,
		pace:   rate.NewLimiter(rate.Limit(perSecond), 1),
		minGap: minGap,
		queue:  make(chan *pending, queueDepth),
		done:   make(chan struct{}),
	}
	go l.dispatch()
	return l
}

// Execute queues op and runs it once the limiter releases it. The error
// returned by op goes only to this caller; queued operations behind it
// are unaffected. Cancelling ctx abandons the wait (and the operation)
// without disturbing the queue.
func (l *Limiter) Execute(ctx context.Context, op Operation) error {
	p := &pending{ctx: ctx, ready: make(chan error, 1)}

	select {
	case l.queue <- p:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}

	select {
	case err := <-p.ready:
		if err != nil {
			return err
		}
		return op(ctx)
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Do runs op through the limiter and returns its result, for callers
// that want a value back without threading it out of the closure.
func Do[T any](ctx context.Context, l *Limiter, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Close stops the dispatcher. Operations already released keep running;
// queued operations receive ErrClosed.
func (l *Limiter) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// dispatch is the single goroutine that owns release ordering.
func (l *Limiter) dispatch() {
	var last time.Time

	for {
		select {
		case <-l.done:
			return
		case p := <-l.queue:
			if p.ctx.Err() != nil {
				p.ready <- p.ctx.Err()
				continue
			}

			if l.minGap > 0 && !last.IsZero() {
				if gap := l.minGap - time.Since(last); gap > 0 {
					if !l.sleep(p, gap) {
						continue
					}
				}
			}

			if err := l.pace.Wait(p.ctx); err != nil {
				p.ready <- err
				continue
			}

			last = time.Now()
			p.ready <- nil
		}
	}
}

// sleep waits out the inter-operation gap. Returns false when the
// waiter's context (or the limiter) died during the wait, in which case
// the waiter has already been answered.
func (l *Limiter) sleep(p *pending, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		p.ready <- p.ctx.Err()
		return false
	case <-l.done:
		p.ready <- ErrClosed
		logging.Debug().Str("limiter", l.name).Msg("Limiter closed with operations queued")
		return false
	}
}
