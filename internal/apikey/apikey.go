// Package apikey mints and verifies gateway API keys. Raw keys are shown once;
// only the bcrypt hash and the lookup prefix are stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Marker starts every raw key.
	Marker = "ab_"
	// PrefixLen is the number of leading characters stored for lookup.
	PrefixLen = 8

	secretBytes = 24
)

var ErrInvalidScope = errors.New("invalid api key scope")

// Scopes lists every scope a key may carry.
var Scopes = []string{models.ScopeJobsWrite, models.ScopeJobsRead, models.ScopeRecognize}

// New creates a key record with a fresh secret and returns the raw key.
func New(name string, scopes []string, cost int) (string, *models.APIKey, error) {
	if len(scopes) == 0 {
		scopes = slices.Clone(Scopes)
	}
	for _, s := range scopes {
		if !slices.Contains(Scopes, s) {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := Marker + hex.EncodeToString(buf)

	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Prefix returns the lookup prefix of raw, or false if raw is too short.
func Prefix(raw string) (string, bool) {
	if len(raw) < PrefixLen {
		return "", false
	}
	return raw[:PrefixLen], true
}

// Verify reports whether raw matches the stored hash.
func Verify(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
