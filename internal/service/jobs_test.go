package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/appbuilder/internal/components/ppt"
	"github.com/kiranshivaraju/appbuilder/internal/job"
	"github.com/kiranshivaraju/appbuilder/internal/store"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStore struct {
	mu           sync.Mutex
	jobs         map[uuid.UUID]*models.Job
	transitions  []string
	createJobErr error

	// honorCtx makes writes fail on a done context, as pgx does.
	honorCtx bool
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *mockStore) Ping(context.Context) error { return nil }
func (s *mockStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (s *mockStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (s *mockStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) { return nil, nil }
func (s *mockStore) RevokeAPIKey(context.Context, uuid.UUID) error         { return nil }

func (s *mockStore) CreateJob(_ context.Context, j *models.Job) error {
	if s.createJobErr != nil {
		return s.createJobErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id, owner uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OwnerKeyID != owner {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *mockStore) ListJobs(_ context.Context, owner uuid.UUID, _ int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.OwnerKeyID == owner {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := map[string][]string{
		models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed},
		models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
	}
	if !slices.Contains(allowed[j.Status], status) {
		return store.ErrInvalidTransition
	}

	u := store.NewJobUpdate(opts...)
	j.Status = status
	if u.RemoteID != nil {
		j.RemoteID = u.RemoteID
	}
	if u.DownloadURL != nil {
		j.DownloadURL = u.DownloadURL
	}
	if u.ArchiveKey != nil {
		j.ArchiveKey = u.ArchiveKey
	}
	if u.ErrorKind != nil {
		j.ErrorKind = u.ErrorKind
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = u.ErrorMessage
	}
	if u.Attempts != nil {
		j.Attempts = *u.Attempts
	}
	s.transitions = append(s.transitions, status)
	return nil
}

func (s *mockStore) job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type mockCache struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]models.Job
	getErr error
	setErr error
	hits   int
}

func newMockCache() *mockCache {
	return &mockCache{jobs: make(map[uuid.UUID]models.Job)}
}

func (c *mockCache) Ping(context.Context) error { return nil }

func (c *mockCache) SetJob(_ context.Context, j *models.Job, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[j.ID] = *j
	return nil
}

func (c *mockCache) GetJob(_ context.Context, id, owner uuid.UUID) (*models.Job, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok || j.OwnerKeyID != owner {
		return nil, false, nil
	}
	c.hits++
	return &j, true, nil
}

func (c *mockCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *mockCache) cached(id uuid.UUID) (models.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

type fakeWorkflow struct {
	submitErr error
	awaitErr  error
	fetchErr  error
	attempts  int
	panicMsg  string
	block     bool
	onSubmit  func()

	mu        sync.Mutex
	submitted []ppt.Input
}

func (w *fakeWorkflow) Submit(_ context.Context, in ppt.Input) (*job.Handle, error) {
	if w.panicMsg != "" {
		panic(w.panicMsg)
	}
	w.mu.Lock()
	w.submitted = append(w.submitted, in)
	w.mu.Unlock()
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	if w.onSubmit != nil {
		w.onSubmit()
	}
	return &job.Handle{ID: "remote-1", Status: job.StatusUnknown}, nil
}

func (w *fakeWorkflow) AwaitCompletion(ctx context.Context, h *job.Handle, _ job.Policy) (*job.Handle, error) {
	h.Attempts = w.attempts
	if w.block {
		<-ctx.Done()
		return h, &job.Error{Kind: job.KindCancelled, JobID: h.ID, Attempts: h.Attempts, Err: ctx.Err()}
	}
	if w.awaitErr != nil {
		return h, w.awaitErr
	}
	h.Status = job.StatusCompleted
	return h, nil
}

func (w *fakeWorkflow) FetchResult(_ context.Context, h *job.Handle) (ppt.Result, error) {
	if w.fetchErr != nil {
		return ppt.Result{}, w.fetchErr
	}
	return ppt.Result{JobID: h.ID, DownloadURL: "https://bj.bcebos.com/ppt/remote-1.pptx"}, nil
}

type fakeArchiver struct {
	err    error
	called bool

	// started, when set, is closed on entry and Archive then blocks until ctx is done.
	started chan struct{}
}

func (a *fakeArchiver) Archive(ctx context.Context, jobID uuid.UUID, src string) (string, error) {
	a.called = true
	if a.started != nil {
		close(a.started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	if a.err != nil {
		return "", a.err
	}
	return "ppt/" + jobID.String() + ".pptx", nil
}

func newTestService(w PPTWorkflow, st *mockStore, ca *mockCache, opts ...Option) *JobService {
	return NewJobService(w, st, ca, job.Policy{MaxAttempts: 3, Interval: time.Millisecond}, opts...)
}

func wait(t *testing.T, s *JobService) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}
}

// --- TriggerPPT ---

func TestTriggerPPT_Completes(t *testing.T) {
	st, ca := newMockStore(), newMockCache()
	w := &fakeWorkflow{attempts: 4}
	svc := newTestService(w, st, ca)
	owner := uuid.New()

	j, err := svc.TriggerPPT(context.Background(), owner, ppt.Input{FileKey: " key-1 ", Style: "科技"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, j.Status)
	assert.Equal(t, models.JobTypePPT, j.Type)
	assert.Equal(t, owner, j.OwnerKeyID)

	wait(t, svc)

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "remote-1", *got.RemoteID)
	require.NotNil(t, got.DownloadURL)
	assert.Equal(t, "https://bj.bcebos.com/ppt/remote-1.pptx", *got.DownloadURL)
	assert.Nil(t, got.ArchiveKey)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, []string{models.JobStatusRunning, models.JobStatusCompleted}, st.transitions)

	var stored ppt.Input
	require.NoError(t, json.Unmarshal(got.Input, &stored))
	assert.Equal(t, "key-1", stored.FileKey)
	assert.Equal(t, ppt.DefaultAuthor, stored.Pleader)

	require.Len(t, w.submitted, 1)
	assert.Equal(t, "key-1", w.submitted[0].FileKey)

	cached, ok := ca.cached(j.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, cached.Status)
}

func TestTriggerPPT_InvalidInput(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{}, st, newMockCache())

	_, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k", Style: "baroque"})
	assert.ErrorIs(t, err, ppt.ErrInvalidInput)
	assert.Empty(t, st.jobs)
}

func TestTriggerPPT_StoreError(t *testing.T) {
	st := newMockStore()
	st.createJobErr = errors.New("db down")
	svc := newTestService(&fakeWorkflow{}, st, newMockCache())

	_, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	assert.ErrorContains(t, err, "creating job")
}

func TestTriggerPPT_CacheWriteFailureIsIgnored(t *testing.T) {
	st, ca := newMockStore(), newMockCache()
	ca.setErr = errors.New("redis down")
	svc := newTestService(&fakeWorkflow{attempts: 1}, st, ca)

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)
	assert.Equal(t, models.JobStatusCompleted, st.job(j.ID).Status)
}

func TestTriggerPPT_SubmitFailureFailsPendingJob(t *testing.T) {
	st := newMockStore()
	w := &fakeWorkflow{submitErr: &job.Error{Kind: job.KindTransport, Message: "create job"}}
	svc := newTestService(w, st, newMockCache())

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "transport_error", *got.ErrorKind)
	assert.Nil(t, got.RemoteID)
	assert.Equal(t, []string{models.JobStatusFailed}, st.transitions)
}

func TestTriggerPPT_RemoteFailure(t *testing.T) {
	st := newMockStore()
	w := &fakeWorkflow{attempts: 2, awaitErr: &job.Error{
		Kind: job.KindJobFailed, JobID: "remote-1", Message: "ppt generation failed (requestID=r1)",
	}}
	svc := newTestService(w, st, newMockCache())

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "job_failed", *got.ErrorKind)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "requestID=r1")
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "remote-1", *got.RemoteID)
}

func TestTriggerPPT_UnclassifiedErrorIsInternal(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{fetchErr: errors.New("boom")}, st, newMockCache())

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "internal", *got.ErrorKind)
}

func TestTriggerPPT_PanicFailsJob(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{panicMsg: "nil map"}, st, newMockCache())

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "panic: nil map", *got.ErrorMessage)
}

func TestTriggerPPT_Archives(t *testing.T) {
	st := newMockStore()
	arch := &fakeArchiver{}
	svc := newTestService(&fakeWorkflow{attempts: 1}, st, newMockCache(), WithArchiver(arch))

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	assert.True(t, arch.called)
	require.NotNil(t, got.ArchiveKey)
	assert.Equal(t, "ppt/"+j.ID.String()+".pptx", *got.ArchiveKey)
}

func TestTriggerPPT_ArchiveFailureKeepsJobCompleted(t *testing.T) {
	st := newMockStore()
	arch := &fakeArchiver{err: errors.New("access denied")}
	svc := newTestService(&fakeWorkflow{attempts: 1}, st, newMockCache(), WithArchiver(arch))

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)
	wait(t, svc)

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.ArchiveKey)
	require.NotNil(t, got.DownloadURL)
}

// --- Shutdown ---

func TestShutdown_CancelsInFlightPolling(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{block: true, attempts: 1}, st, newMockCache())

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "cancelled", *got.ErrorKind)
}

func TestShutdown_DuringArchiveStillCompletesJob(t *testing.T) {
	st := newMockStore()
	st.honorCtx = true
	arch := &fakeArchiver{started: make(chan struct{})}
	svc := newTestService(&fakeWorkflow{attempts: 2}, st, newMockCache(), WithArchiver(arch))

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)

	select {
	case <-arch.started:
	case <-time.After(5 * time.Second):
		t.Fatal("archiving never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got := st.job(j.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.DownloadURL)
	assert.Equal(t, "https://bj.bcebos.com/ppt/remote-1.pptx", *got.DownloadURL)
	assert.Nil(t, got.ArchiveKey)
	assert.Equal(t, 2, got.Attempts)
}

func TestShutdown_AfterSubmitRecordsRemoteID(t *testing.T) {
	st := newMockStore()
	st.honorCtx = true
	w := &fakeWorkflow{block: true, attempts: 1}
	svc := newTestService(w, st, newMockCache())
	w.onSubmit = svc.cancel

	j, err := svc.TriggerPPT(context.Background(), uuid.New(), ppt.Input{FileKey: "k"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got := st.job(j.ID)
	assert.Equal(t, []string{models.JobStatusRunning, models.JobStatusFailed}, st.transitions)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "remote-1", *got.RemoteID)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "cancelled", *got.ErrorKind)
}

// --- GetJob / ListJobs ---

func TestGetJob_CacheFirst(t *testing.T) {
	st, ca := newMockStore(), newMockCache()
	svc := newTestService(&fakeWorkflow{}, st, ca)
	owner := uuid.New()
	cachedJob := models.Job{ID: uuid.New(), OwnerKeyID: owner, Status: models.JobStatusRunning}
	ca.jobs[cachedJob.ID] = cachedJob

	got, err := svc.GetJob(context.Background(), cachedJob.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 1, ca.hits)
}

func TestGetJob_FallsBackToStoreAndCaches(t *testing.T) {
	st, ca := newMockStore(), newMockCache()
	svc := newTestService(&fakeWorkflow{}, st, ca)
	owner := uuid.New()
	j := &models.Job{ID: uuid.New(), OwnerKeyID: owner, Status: models.JobStatusCompleted}
	require.NoError(t, st.CreateJob(context.Background(), j))

	got, err := svc.GetJob(context.Background(), j.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	_, ok := ca.cached(j.ID)
	assert.True(t, ok)
}

func TestGetJob_CacheErrorFallsBack(t *testing.T) {
	st, ca := newMockStore(), newMockCache()
	ca.getErr = errors.New("redis down")
	svc := newTestService(&fakeWorkflow{}, st, ca)
	owner := uuid.New()
	j := &models.Job{ID: uuid.New(), OwnerKeyID: owner, Status: models.JobStatusPending}
	require.NoError(t, st.CreateJob(context.Background(), j))

	got, err := svc.GetJob(context.Background(), j.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestGetJob_OtherOwner(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{}, st, newMockCache())
	j := &models.Job{ID: uuid.New(), OwnerKeyID: uuid.New(), Status: models.JobStatusPending}
	require.NoError(t, st.CreateJob(context.Background(), j))

	_, err := svc.GetJob(context.Background(), j.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobs(t *testing.T) {
	st := newMockStore()
	svc := newTestService(&fakeWorkflow{}, st, newMockCache())
	owner := uuid.New()
	for range 2 {
		require.NoError(t, st.CreateJob(context.Background(), &models.Job{ID: uuid.New(), OwnerKeyID: owner}))
	}
	require.NoError(t, st.CreateJob(context.Background(), &models.Job{ID: uuid.New(), OwnerKeyID: uuid.New()}))

	jobs, err := svc.ListJobs(context.Background(), owner, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
