// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class partitions upstream failures by how the caller should react.
type Class int

const (
	// ClassTransient covers network timeouts, 5xx responses and
	// connection resets. Retry with backoff.
	ClassTransient Class = iota
	// ClassRateLimited is an HTTP 429. Back off for the upstream's fixed
	// cooldown, then resume; does not consume the bounded retry budget.
	ClassRateLimited
	// ClassNotFound is a 404 or equivalent end-of-data signal. For paged
	// fetches it is a normal termination condition, not a failure.
	ClassNotFound
	// ClassAuth covers 401/403 and invalid refresh tokens. Never
	// retryable; the subject needs external re-authorization.
	ClassAuth
	// ClassMalformed is an upstream payload that failed to parse or
	// validate. Abort the single item, keep the batch going.
	ClassMalformed
)

// String returns the class name used in logs and tally labels.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassNotFound:
		return "not_found"
	case ClassAuth:
		return "auth"
	case ClassMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified upstream failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err under op with an explicit class.
func newError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ErrReauthorizationRequired marks a refresh token the auth server no
// longer accepts. The subject must be disabled until a human re-runs
// the OAuth consent flow.
var ErrReauthorizationRequired = &Error{
	Class: ClassAuth,
	Op:    "refresh token",
	Err:   errors.New("refresh token rejected, re-authorization required"),
}

// ClassOf extracts the failure class from an error chain. Unclassified
// errors default to transient, the safe assumption for network work.
func ClassOf(err error) Class {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}
	return ClassTransient
}

// IsRetryable reports whether the orchestrator may retry after err.
// Auth and malformed failures are terminal for their item or subject.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassAuth, ClassMalformed:
		return false
	default:
		return true
	}
}

// IsNotFound reports whether err is an end-of-data signal.
func IsNotFound(err error) bool { return err != nil && ClassOf(err) == ClassNotFound }

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool { return err != nil && ClassOf(err) == ClassRateLimited }

// IsAuth reports whether err requires external re-authorization.
func IsAuth(err error) bool { return err != nil && ClassOf(err) == ClassAuth }

// classifyStatus maps a non-2xx HTTP status to a classified error.
func classifyStatus(op string, status int) *Error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return newError(ClassRateLimited, op, err)
	case status == http.StatusNotFound:
		return newError(ClassNotFound, op, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(ClassAuth, op, err)
	case status >= 500:
		return newError(ClassTransient, op, err)
	default:
		// 4xx we did not anticipate means we sent something the upstream
		// rejects; retrying the same request will not help.
		return newError(ClassMalformed, op, err)
	}
}
