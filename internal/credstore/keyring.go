package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage for the refresh
// token record. Uses macOS Keychain, Windows Credential Manager, or Linux
// Secret Service. The record is stored as a JSON blob.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Load returns the credentials from the system keyring. Returns ErrNotFound if
// no record exists for the service/user pair.
func (k *KeyringStore) Load(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	blob, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(blob), &creds); err != nil {
		return Credentials{}, fmt.Errorf("parsing keyring record for service %s, user %s: %w", k.service, k.user, err)
	}
	return creds, nil
}

// Save persists the credentials to the system keyring, overwriting any existing record.
func (k *KeyringStore) Save(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	blob, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	return keyring.Set(k.service, k.user, string(blob))
}
