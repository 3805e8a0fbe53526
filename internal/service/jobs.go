// Package service runs gateway jobs: it records them in the store, drives the
// remote workflow in the background and keeps the cache current.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/appbuilder/internal/cache"
	"github.com/kiranshivaraju/appbuilder/internal/components/ppt"
	"github.com/kiranshivaraju/appbuilder/internal/job"
	"github.com/kiranshivaraju/appbuilder/internal/store"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
)

const (
	defaultCacheTTL = 30 * time.Minute

	// finishTimeout bounds the result fetch once polling has ended.
	finishTimeout  = time.Minute
	archiveTimeout = 5 * time.Minute
)

// PPTWorkflow is the part of job.Poller[ppt.Input, ppt.Result] the service drives.
type PPTWorkflow interface {
	Submit(ctx context.Context, in ppt.Input) (*job.Handle, error)
	AwaitCompletion(ctx context.Context, h *job.Handle, policy job.Policy) (*job.Handle, error)
	FetchResult(ctx context.Context, h *job.Handle) (ppt.Result, error)
}

// Archiver copies a finished artifact somewhere durable and returns its key.
type Archiver interface {
	Archive(ctx context.Context, jobID uuid.UUID, sourceURL string) (string, error)
}

// Option configures a JobService.
type Option func(*JobService)

// WithArchiver enables archiving of generated artifacts.
func WithArchiver(a Archiver) Option {
	return func(s *JobService) { s.archiver = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *JobService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *JobService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// JobService orchestrates PPT jobs on behalf of API keys.
type JobService struct {
	ppt      PPTWorkflow
	store    store.Store
	cache    cache.Cache
	policy   job.Policy
	archiver Archiver
	logger   *slog.Logger
	cacheTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobService creates a new JobService. Every background run is polled with policy.
func NewJobService(workflow PPTWorkflow, st store.Store, ca cache.Cache, policy job.Policy, opts ...Option) *JobService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &JobService{
		ppt:      workflow,
		store:    st,
		cache:    ca,
		policy:   policy,
		logger:   slog.Default(),
		cacheTTL: defaultCacheTTL,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TriggerPPT validates in, creates a pending job and dispatches the workflow in
// a background goroutine. Returns the job immediately.
func (s *JobService) TriggerPPT(ctx context.Context, ownerKeyID uuid.UUID, in ppt.Input) (*models.Job, error) {
	normalized, err := in.Validate()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}

	now := time.Now().UTC()
	j := &models.Job{
		ID:         uuid.New(),
		OwnerKeyID: ownerKeyID,
		Type:       models.JobTypePPT,
		Status:     models.JobStatusPending,
		Input:      raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.cacheJob(ctx, j)

	s.wg.Add(1)
	go s.runPPT(j.ID, ownerKeyID, normalized)

	return j, nil
}

// GetJob returns the job, reading the cache before the store.
func (s *JobService) GetJob(ctx context.Context, id, ownerKeyID uuid.UUID) (*models.Job, error) {
	if j, found, err := s.cache.GetJob(ctx, id, ownerKeyID); err == nil && found {
		return j, nil
	} else if err != nil {
		s.logger.Warn("job cache read failed", "job_id", id, "error", err)
	}

	j, err := s.store.GetJob(ctx, id, ownerKeyID)
	if err != nil {
		return nil, err
	}
	s.cacheJob(ctx, j)
	return j, nil
}

// ListJobs returns the newest jobs of ownerKeyID.
func (s *JobService) ListJobs(ctx context.Context, ownerKeyID uuid.UUID, limit int) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, ownerKeyID, limit)
}

// Shutdown stops polling in-flight jobs and waits for their runs to record
// the outcome, or for ctx to end. Remote jobs are left running.
func (s *JobService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPPT performs the remote workflow in a goroutine.
// It recovers from panics and always leaves the job completed or failed.
// Shutdown stops polling and archiving; store writes outlive it.
func (s *JobService) runPPT(jobID, ownerKeyID uuid.UUID, in ppt.Input) {
	defer s.wg.Done()
	ctx := s.ctx
	persist := context.WithoutCancel(ctx)
	logger := s.logger.With("job_id", jobID)

	var h *job.Handle
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in runPPT", "error", r)
			s.fail(ctx, jobID, ownerKeyID, h, "panic", fmt.Sprintf("panic: %v", r))
		}
	}()

	h, err := s.ppt.Submit(ctx, in)
	if err != nil {
		s.failWith(ctx, jobID, ownerKeyID, nil, err)
		return
	}

	if err := s.transition(persist, jobID, ownerKeyID, models.JobStatusRunning, store.WithRemoteID(h.ID)); err != nil {
		logger.Error("marking job running", "remote_id", h.ID, "error", err)
		s.failWith(persist, jobID, ownerKeyID, h, fmt.Errorf("recording remote job: %w", err))
		return
	}

	if _, err := s.ppt.AwaitCompletion(ctx, h, s.policy); err != nil {
		s.failWith(ctx, jobID, ownerKeyID, h, err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(persist, finishTimeout)
	defer cancel()
	res, err := s.ppt.FetchResult(fetchCtx, h)
	if err != nil {
		s.failWith(persist, jobID, ownerKeyID, h, err)
		return
	}

	opts := []store.JobUpdateOption{
		store.WithDownloadURL(res.DownloadURL),
		store.WithAttempts(h.Attempts),
	}
	if s.archiver != nil {
		if key, err := s.archive(ctx, jobID, res.DownloadURL); err != nil {
			logger.Warn("archiving artifact failed", "error", err)
		} else {
			opts = append(opts, store.WithArchiveKey(key))
		}
	}

	if err := s.transition(persist, jobID, ownerKeyID, models.JobStatusCompleted, opts...); err != nil {
		logger.Error("marking job completed", "error", err)
		s.failWith(persist, jobID, ownerKeyID, h, fmt.Errorf("recording result: %w", err))
		return
	}
	logger.Info("ppt job completed", "remote_id", h.ID, "attempts", h.Attempts)
}

func (s *JobService) archive(ctx context.Context, jobID uuid.UUID, sourceURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	return s.archiver.Archive(ctx, jobID, sourceURL)
}

func (s *JobService) failWith(ctx context.Context, jobID, ownerKeyID uuid.UUID, h *job.Handle, err error) {
	kind := "internal"
	if k := job.KindOf(err); k != 0 {
		kind = k.String()
	}
	s.fail(ctx, jobID, ownerKeyID, h, kind, err.Error())
}

func (s *JobService) fail(ctx context.Context, jobID, ownerKeyID uuid.UUID, h *job.Handle, kind, msg string) {
	// The outcome is recorded even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	opts := []store.JobUpdateOption{store.WithErrorKind(kind), store.WithErrorMessage(msg)}
	if h != nil {
		opts = append(opts, store.WithRemoteID(h.ID), store.WithAttempts(h.Attempts))
	}
	if err := s.transition(ctx, jobID, ownerKeyID, models.JobStatusFailed, opts...); err != nil {
		s.logger.Error("marking job failed", "job_id", jobID, "error", err)
		return
	}
	s.logger.Warn("ppt job failed", "job_id", jobID, "error_kind", kind, "error", msg)
}

func (s *JobService) transition(ctx context.Context, jobID, ownerKeyID uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if err := s.store.UpdateJobStatus(ctx, jobID, status, opts...); err != nil {
		return err
	}
	j, err := s.store.GetJob(ctx, jobID, ownerKeyID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("reloading job", "job_id", jobID, "error", err)
		}
		return nil
	}
	s.cacheJob(ctx, j)
	return nil
}

func (s *JobService) cacheJob(ctx context.Context, j *models.Job) {
	if err := s.cache.SetJob(ctx, j, s.cacheTTL); err != nil {
		s.logger.Warn("job cache write failed", "job_id", j.ID, "error", err)
	}
}
