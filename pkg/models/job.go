// Package models contains shared data models used across the AppBuilder gateway.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypePPT = "ppt_generation_from_paper"

// Job tracks a remote AppBuilder job on behalf of an API key. The API returns
// the job on POST /api/v1/ppt; the client polls GET /api/v1/jobs/{job_id}
// until status is completed or failed.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	OwnerKeyID   uuid.UUID       `db:"owner_key_id"  json:"-"`
	Type         string          `db:"type"          json:"type"`
	Status       string          `db:"status"        json:"status"`
	Input        json.RawMessage `db:"input"         json:"input,omitempty"`
	RemoteID     *string         `db:"remote_id"     json:"remote_id,omitempty"`
	DownloadURL  *string         `db:"download_url"  json:"download_url,omitempty"`
	ArchiveKey   *string         `db:"archive_key"   json:"archive_key,omitempty"`
	ErrorKind    *string         `db:"error_kind"    json:"error_kind,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	Attempts     int             `db:"attempts"      json:"attempts"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job will not change again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
