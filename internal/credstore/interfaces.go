package credstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no record has been persisted yet.
// Callers treat it as "never logged in" rather than a failure.
var ErrNotFound = errors.New("no stored credentials")

// Credentials is the persisted subset of the token bundle: the long-lived
// refresh token and its expiry as epoch seconds. Access tokens never appear here.
type Credentials struct {
	RefreshToken   string `json:"refresh_token"`
	RefreshExpires int64  `json:"refresh_expires"`
}

// Store reads and writes the refresh token record to persistent storage.
type Store interface {
	// Load returns the stored credentials. Returns ErrNotFound if nothing
	// has been persisted yet.
	Load(ctx context.Context) (Credentials, error)

	// Save persists the credentials, replacing any previous record.
	Save(ctx context.Context, creds Credentials) error
}
