// Package job drives long-running remote jobs through a create, poll, fetch
// workflow. A remote backend supplies the three endpoint operations; the
// Poller owns validation, the bounded poll loop and error classification.
package job

import (
	"fmt"
	"time"
)

// Status is the locally tracked state of a remote job.
type Status int

const (
	// StatusUnknown is held before the first status call decodes and after the
	// poll budget runs out without a terminal status.
	StatusUnknown Status = iota
	StatusPending
	StatusCompleted
	StatusFailed
)

// Remote status codes reported in data.status by job status endpoints.
const (
	CodePending   = 1
	CodeCompleted = 2
	CodeFailed    = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further remote transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusFromCode maps a remote status code. ok is false for unrecognized codes.
func StatusFromCode(code int) (status Status, ok bool) {
	switch code {
	case CodePending:
		return StatusPending, true
	case CodeCompleted:
		return StatusCompleted, true
	case CodeFailed:
		return StatusFailed, true
	default:
		return StatusUnknown, false
	}
}

// StatusReport is one decoded answer from a status endpoint.
type StatusReport struct {
	Code    int
	Message string
}

// Handle identifies a submitted remote job. Only the poll loop mutates it, and
// never after it reaches StatusCompleted or StatusFailed.
type Handle struct {
	ID         string
	Status     Status
	RemoteCode int
	Attempts   int
}

// Policy bounds the poll loop. Total wait is at most MaxAttempts*Interval plus
// per-request transport timeouts.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Defaults mirror the remote service's recommended polling cadence.
const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 5 * time.Second
)

// DefaultPolicy returns the recommended poll budget of 60 checks, 5s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}
}

// Validate rejects policies that could poll forever or never poll.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", p.Interval)
	}
	return nil
}

// Budget is the upper bound on time spent sleeping between attempts.
func (p Policy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}
