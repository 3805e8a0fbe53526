package job

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per failure kind. Every error returned by a Poller is an
// *Error whose chain contains exactly one of these.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("transport error")
	ErrProtocol        = errors.New("protocol error")
	ErrJobFailed       = errors.New("job failed")
	ErrTimeout         = errors.New("job poll budget exhausted")
	ErrInvalidState    = errors.New("invalid job state")
	ErrCancelled       = errors.New("job polling cancelled")
)

// Kind classifies a workflow failure.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindTransport
	KindProtocol
	KindJobFailed
	KindTimeout
	KindInvalidState
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransport:
		return "transport_error"
	case KindProtocol:
		return "protocol_error"
	case KindJobFailed:
		return "job_failed"
	case KindTimeout:
		return "timeout"
	case KindInvalidState:
		return "invalid_state"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindJobFailed:
		return ErrJobFailed
	case KindTimeout:
		return ErrTimeout
	case KindInvalidState:
		return ErrInvalidState
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Error carries enough context to log or retry a failed workflow at a higher
// level.
type Error struct {
	Kind Kind
	// JobID is empty when the failure happened before the remote job existed.
	JobID string
	// LastStatus is the last status decoded from the remote. For KindTimeout it
	// tells a still-pending job (resumable) from one that never answered.
	LastStatus Status
	RemoteCode int
	// Message is the remote diagnostic for KindJobFailed, otherwise a local
	// description.
	Message  string
	Attempts int
	// Err is the underlying cause and is part of the error chain.
	Err error
	// LastErr is the most recent tolerated attempt failure on KindTimeout. It
	// is not part of the error chain: a timeout never matches ErrTransport or
	// ErrProtocol.
	LastErr error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.JobID != "" {
		fmt.Fprintf(&b, "job %s: ", e.JobID)
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.LastErr != nil {
		fmt.Fprintf(&b, " (last error: %v)", e.LastErr)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Pending reports whether a timeout left the job still pending remotely, in
// which case polling may be resumed with a fresh Policy.
func (e *Error) Pending() bool {
	return e.Kind == KindTimeout && e.LastStatus == StatusPending
}

// KindOf returns the Kind of a Poller error, or 0 if err is not one.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return 0
}

// Transport marks err as a transport-level failure for backends.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Protocol marks err as a remote contract violation for backends.
func Protocol(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

// classify picks the Kind for a backend error. Errors that carry no marker are
// treated as transport failures.
func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindTransport
	}
}
