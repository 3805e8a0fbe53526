package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, ownerKeyID uuid.UUID, limit int) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
}

// JobUpdate is the set of optional columns written with a status change.
type JobUpdate struct {
	RemoteID     *string
	DownloadURL  *string
	ArchiveKey   *string
	ErrorKind    *string
	ErrorMessage *string
	Attempts     *int
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate applies opts to an empty JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithRemoteID(id string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.RemoteID = &id
	}
}

func WithDownloadURL(u string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.DownloadURL = &u
	}
}

func WithArchiveKey(key string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ArchiveKey = &key
	}
}

func WithErrorKind(kind string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorKind = &kind
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithAttempts(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Attempts = &n
	}
}
