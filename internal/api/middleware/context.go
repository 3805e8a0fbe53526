package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "api_key_identity"

// Identity is the authenticated API key of a request.
type Identity struct {
	KeyID     uuid.UUID
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether the key carries scope.
func (id Identity) HasScope(scope string) bool {
	return slices.Contains(id.Scopes, scope)
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func GetIdentity(r *http.Request) (Identity, bool) {
	id, ok := r.Context().Value(identityKey).(Identity)
	return id, ok
}

// GetKeyID returns the id of the authenticated key, which owns the jobs it creates.
func GetKeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := GetIdentity(r)
	return id.KeyID, ok
}
