package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend is the remote side of a job family: one call each to create a job,
// check its status and read its result. Implementations mark failures with
// Transport or Protocol; unmarked errors count as transport failures.
type Backend[In, Out any] interface {
	Create(ctx context.Context, in In) (string, error)
	Status(ctx context.Context, id string) (StatusReport, error)
	Result(ctx context.Context, id string) (Out, error)
}

// Validator is implemented by backends whose input must be checked and
// normalized before any network call.
type Validator[In any] interface {
	Validate(in In) (In, error)
}

// Observer receives poll loop events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(name string, status Status, err error)
	ObserveOutcome(name string, status Status, kind Kind, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(string, Status, error)                {}
func (noopObserver) ObserveOutcome(string, Status, Kind, time.Duration) {}

type options struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures a Poller.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an Observer for attempts and outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// Poller runs the create, poll, fetch workflow against a Backend. It holds no
// per-job state and is safe for concurrent use by independent workflows.
type Poller[In, Out any] struct {
	name     string
	backend  Backend[In, Out]
	logger   *slog.Logger
	observer Observer
}

// New creates a Poller for the job family called name.
func New[In, Out any](name string, backend Backend[In, Out], opts ...Option) *Poller[In, Out] {
	o := options{logger: slog.Default(), observer: noopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[In, Out]{
		name:     name,
		backend:  backend,
		logger:   o.logger.With("job", name),
		observer: o.observer,
	}
}

// Name returns the job family name.
func (p *Poller[In, Out]) Name() string { return p.name }

// Submit validates in and creates the remote job. Creation is attempted at most
// once: a transport failure is returned to the caller, never retried.
func (p *Poller[In, Out]) Submit(ctx context.Context, in In) (*Handle, error) {
	if v, ok := any(p.backend).(Validator[In]); ok {
		normalized, err := v.Validate(in)
		if err != nil {
			return nil, &Error{Kind: KindInvalidArgument, Message: "input rejected", Err: err}
		}
		in = normalized
	}

	id, err := p.backend.Create(ctx, in)
	if err != nil {
		p.logger.Error("job creation failed", "error", err)
		return nil, &Error{Kind: classify(err), Message: "create job", Err: err}
	}
	if id == "" {
		p.logger.Error("job creation returned no id")
		return nil, &Error{Kind: KindProtocol, Message: "create response carried no job id"}
	}

	p.logger.Info("job submitted", "job_id", id)
	return &Handle{ID: id, Status: StatusUnknown}, nil
}

// AwaitCompletion polls until the job completes, fails, or the policy's
// attempts run out. A single failed or undecodable status check is logged and
// counted against the budget. Cancellation is honored between attempts and does
// not touch the remote job.
func (p *Poller[In, Out]) AwaitCompletion(ctx context.Context, h *Handle, policy Policy) (*Handle, error) {
	if h == nil || h.ID == "" {
		return h, &Error{Kind: KindInvalidState, Message: "handle has no job id"}
	}
	switch h.Status {
	case StatusCompleted:
		return h, nil
	case StatusFailed:
		return h, &Error{Kind: KindJobFailed, JobID: h.ID, LastStatus: StatusFailed,
			RemoteCode: h.RemoteCode, Attempts: h.Attempts, Message: "job already failed"}
	}
	if err := policy.Validate(); err != nil {
		return h, &Error{Kind: KindInvalidArgument, JobID: h.ID, Message: "invalid poll policy", Err: err}
	}

	start := time.Now()
	// A resumed handle keeps the status it last reported.
	lastValid, _ := StatusFromCode(h.RemoteCode)
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return h, p.cancelled(h, lastValid, start, err)
		}

		h.Attempts++
		report, err := p.backend.Status(ctx, h.ID)
		status := StatusUnknown
		if err == nil {
			var ok bool
			if status, ok = StatusFromCode(report.Code); !ok {
				err = Protocol(fmt.Errorf("unrecognized status code %d", report.Code))
			}
		}
		p.observer.ObserveAttempt(p.name, status, err)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return h, p.cancelled(h, lastValid, start, ctxErr)
			}
			p.logger.Warn("job status check failed",
				"job_id", h.ID,
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"error", err,
			)
			lastErr = err
		} else {
			h.RemoteCode = report.Code
			lastValid = status

			switch status {
			case StatusCompleted:
				h.Status = StatusCompleted
				p.logger.Info("job completed", "job_id", h.ID, "attempts", h.Attempts)
				p.observer.ObserveOutcome(p.name, StatusCompleted, 0, time.Since(start))
				return h, nil
			case StatusFailed:
				h.Status = StatusFailed
				p.logger.Error("job failed remotely", "job_id", h.ID, "message", report.Message)
				p.observer.ObserveOutcome(p.name, StatusFailed, KindJobFailed, time.Since(start))
				return h, &Error{
					Kind:       KindJobFailed,
					JobID:      h.ID,
					LastStatus: StatusFailed,
					RemoteCode: report.Code,
					Message:    report.Message,
					Attempts:   h.Attempts,
				}
			default:
				h.Status = StatusPending
			}
		}

		if attempt < policy.MaxAttempts {
			if err := sleep(ctx, policy.Interval); err != nil {
				return h, p.cancelled(h, lastValid, start, err)
			}
		}
	}

	h.Status = StatusUnknown
	msg := fmt.Sprintf("no valid status after %d attempts", policy.MaxAttempts)
	if lastValid == StatusPending {
		msg = fmt.Sprintf("still pending after %d attempts", policy.MaxAttempts)
	}
	p.logger.Error("job poll budget exhausted", "job_id", h.ID, "last_status", lastValid.String())
	p.observer.ObserveOutcome(p.name, StatusUnknown, KindTimeout, time.Since(start))
	return h, &Error{
		Kind:       KindTimeout,
		JobID:      h.ID,
		LastStatus: lastValid,
		RemoteCode: h.RemoteCode,
		Message:    msg,
		Attempts:   h.Attempts,
		LastErr:    lastErr,
	}
}

// FetchResult reads the result of a completed job. Calling it on any other
// handle is a programming error reported as KindInvalidState.
func (p *Poller[In, Out]) FetchResult(ctx context.Context, h *Handle) (Out, error) {
	var zero Out
	if h == nil {
		return zero, &Error{Kind: KindInvalidState, Message: "nil handle"}
	}
	if h.Status != StatusCompleted {
		return zero, &Error{Kind: KindInvalidState, JobID: h.ID, LastStatus: h.Status,
			Message: fmt.Sprintf("result requested while job is %s", h.Status)}
	}

	out, err := p.backend.Result(ctx, h.ID)
	if err != nil {
		p.logger.Error("job result retrieval failed", "job_id", h.ID, "error", err)
		return zero, &Error{Kind: classify(err), JobID: h.ID, LastStatus: h.Status,
			RemoteCode: h.RemoteCode, Message: "fetch result", Err: err}
	}
	return out, nil
}

// Run composes Submit, AwaitCompletion and FetchResult. Callers that want an
// end-to-end retry call Run again, which creates a fresh job.
func (p *Poller[In, Out]) Run(ctx context.Context, in In, policy Policy) (Out, error) {
	var zero Out

	p.logger.Info("creating job")
	h, err := p.Submit(ctx, in)
	if err != nil {
		return zero, err
	}

	p.logger.Info("waiting for job", "job_id", h.ID,
		"max_attempts", policy.MaxAttempts, "interval", policy.Interval.String())
	if _, err := p.AwaitCompletion(ctx, h, policy); err != nil {
		return zero, err
	}

	p.logger.Info("fetching job result", "job_id", h.ID)
	return p.FetchResult(ctx, h)
}

func (p *Poller[In, Out]) cancelled(h *Handle, lastValid Status, start time.Time, cause error) error {
	p.logger.Info("job polling cancelled", "job_id", h.ID, "attempts", h.Attempts)
	p.observer.ObserveOutcome(p.name, h.Status, KindCancelled, time.Since(start))
	return &Error{
		Kind:       KindCancelled,
		JobID:      h.ID,
		LastStatus: lastValid,
		RemoteCode: h.RemoteCode,
		Attempts:   h.Attempts,
		Err:        cause,
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
