package models

import (
	"time"

	"github.com/google/uuid"
)

// API key scopes.
const (
	ScopeJobsWrite = "jobs:write"
	ScopeJobsRead  = "jobs:read"
	ScopeRecognize = "recognize"
)

// APIKey is a gateway credential. Jobs are owned by the key that created them.
// The raw key is printed once by "keys create"; only its bcrypt hash and
// lookup prefix are kept.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Active reports whether the key has not been revoked.
func (k *APIKey) Active() bool {
	return k.DeletedAt == nil
}
