package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mariahpope/anemoi-training/internal/credstore"
	"github.com/mariahpope/anemoi-training/internal/prompt"
)

// fakeStore is an in-memory credstore.Store that counts writes.
type fakeStore struct {
	creds credstore.Credentials
	found bool
	saves int
}

func (f *fakeStore) Load(ctx context.Context) (credstore.Credentials, error) {
	if !f.found {
		return credstore.Credentials{}, credstore.ErrNotFound
	}
	return f.creds, nil
}

func (f *fakeStore) Save(ctx context.Context, creds credstore.Credentials) error {
	f.creds = creds
	f.found = true
	f.saves++
	return nil
}

// refusingPrompter fails the test when the authority asks for credentials.
type refusingPrompter struct {
	t *testing.T
}

func (p *refusingPrompter) Username(ctx context.Context) (string, error) {
	p.t.Error("unexpected credential prompt")
	return "", fmt.Errorf("no interactive input available")
}

func (p *refusingPrompter) Password(ctx context.Context) (string, error) {
	p.t.Error("unexpected credential prompt")
	return "", fmt.Errorf("no interactive input available")
}

// stubTokenServer runs an httptest server answering both token endpoints and
// counting requests per path.
type stubTokenServer struct {
	*httptest.Server
	newTokenBody     string
	refreshTokenBody string
	newTokenCalls    atomic.Int64
	refreshCalls     atomic.Int64
}

func newStubTokenServer(t *testing.T) *stubTokenServer {
	t.Helper()
	s := &stubTokenServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newtoken":
			s.newTokenCalls.Add(1)
			_, _ = w.Write([]byte(s.newTokenBody))
		case "/refreshtoken":
			s.refreshCalls.Add(1)
			_, _ = w.Write([]byte(s.refreshTokenBody))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNewRequiresServerURL(t *testing.T) {
	_, err := New("", &fakeStore{}, &prompt.Static{})
	if !errors.Is(err, ErrMissingURL) {
		t.Errorf("New with empty URL = %v, want ErrMissingURL", err)
	}
}

func TestDisabledAuthorityIsInert(t *testing.T) {
	store := &fakeStore{}
	server := newStubTokenServer(t)

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithEnabled(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := authority.Login(ctx, false); err != nil {
		t.Errorf("Login on disabled authority = %v, want nil", err)
	}
	if err := authority.Authenticate(ctx); err != nil {
		t.Errorf("Authenticate on disabled authority = %v, want nil", err)
	}

	if n := server.newTokenCalls.Load() + server.refreshCalls.Load(); n != 0 {
		t.Errorf("disabled authority performed %d network calls", n)
	}
	if store.saves != 0 {
		t.Errorf("disabled authority wrote storage %d times", store.saves)
	}
}

func TestLoginSilentRenewal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "old-refresh",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "OK", "response": {"refresh_token": "renewed-refresh"}}`

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := authority.Login(context.Background(), false); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if got := server.refreshCalls.Load(); got != 1 {
		t.Errorf("refreshtoken calls = %d, want 1", got)
	}
	if server.newTokenCalls.Load() != 0 {
		t.Error("silent renewal must not hit /newtoken")
	}
	if store.creds.RefreshToken != "renewed-refresh" {
		t.Errorf("persisted refresh token = %q, want renewed-refresh", store.creds.RefreshToken)
	}
	wantExpires := now.Add(DefaultRefreshExpireDays * 24 * time.Hour).Unix()
	if store.creds.RefreshExpires != wantExpires {
		t.Errorf("persisted expiry = %d, want %d", store.creds.RefreshExpires, wantExpires)
	}
}

func TestLoginForceCredentialsSkipsRenewal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "still-valid",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.newTokenBody = `{"status": "OK", "response": {"refresh_token": "fresh-refresh"}}`

	prompter := &prompt.Static{User: "alice", Pass: "s3cret"}
	authority, err := New(server.URL, store, prompter, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := authority.Login(context.Background(), true); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if server.refreshCalls.Load() != 0 {
		t.Error("forced login must not attempt silent renewal")
	}
	if got := server.newTokenCalls.Load(); got != 1 {
		t.Errorf("newtoken calls = %d, want 1", got)
	}
	if store.creds.RefreshToken != "fresh-refresh" {
		t.Errorf("persisted refresh token = %q, want fresh-refresh", store.creds.RefreshToken)
	}
}

func TestLoginPromptsWhenNoStoredToken(t *testing.T) {
	store := &fakeStore{}
	server := newStubTokenServer(t)
	server.newTokenBody = `{"status": "OK", "response": {"refresh_token": "first-refresh"}}`

	authority, err := New(server.URL, store, &prompt.Static{User: "alice", Pass: "s3cret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := authority.Login(context.Background(), false); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if server.refreshCalls.Load() != 0 {
		t.Error("login without a stored token must not hit /refreshtoken")
	}
	if store.creds.RefreshToken != "first-refresh" {
		t.Errorf("persisted refresh token = %q, want first-refresh", store.creds.RefreshToken)
	}
}

func TestLoginFailsWhenNoTokenGranted(t *testing.T) {
	store := &fakeStore{}
	server := newStubTokenServer(t)
	server.newTokenBody = `{"status": "ERROR", "response": {"error_description": "Invalid user credentials"}}`

	authority, err := New(server.URL, store, &prompt.Static{User: "alice", Pass: "wrong"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = authority.Login(context.Background(), false)
	if !errors.Is(err, ErrLoginFailed) {
		t.Errorf("Login = %v, want ErrLoginFailed", err)
	}
	if store.saves != 0 {
		t.Errorf("failed login wrote storage %d times, want 0", store.saves)
	}
}

func TestLoginFallsBackToPromptAfterRejectedRenewal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "revoked-refresh",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "ERROR", "response": "{\"error_description\": \"Token is not active\"}"}`
	server.newTokenBody = `{"status": "OK", "response": {"refresh_token": "recovered-refresh"}}`

	authority, err := New(server.URL, store, &prompt.Static{User: "alice", Pass: "s3cret"}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := authority.Login(context.Background(), false); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if server.refreshCalls.Load() != 1 || server.newTokenCalls.Load() != 1 {
		t.Errorf("calls = %d refresh / %d newtoken, want 1 / 1",
			server.refreshCalls.Load(), server.newTokenCalls.Load())
	}
	if store.creds.RefreshToken != "recovered-refresh" {
		t.Errorf("persisted refresh token = %q, want recovered-refresh", store.creds.RefreshToken)
	}
}

func TestAuthenticateMintsAccessToken(t *testing.T) {
	t.Setenv(TrackingTokenEnv, "")

	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "refresh-abc",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "OK", "response": {"access_token": "T", "expires_in": 1000}}`

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := authority.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if got := authority.CurrentAccessToken(); got != "T" {
		t.Errorf("CurrentAccessToken = %q, want T", got)
	}
	if got := os.Getenv(TrackingTokenEnv); got != "T" {
		t.Errorf("%s = %q, want T", TrackingTokenEnv, got)
	}

	// 30% safety margin off the declared 1000s lifetime
	token, err := authority.TokenSource(ctx).Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if want := now.Add(700 * time.Second); !token.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", token.Expiry, want)
	}
}

func TestAuthenticateFastPathSkipsNetwork(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "refresh-abc",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "OK", "response": {"access_token": "T", "expires_in": 1000}}`

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithClock(fixedClock(now)), WithoutEnv())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	for range 3 {
		if err := authority.Authenticate(ctx); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
	}

	if got := server.refreshCalls.Load(); got != 1 {
		t.Errorf("refreshtoken calls = %d, want 1 (fast path must skip network)", got)
	}
}

func TestAuthenticateRequiresLogin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		store *fakeStore
	}{
		{
			name:  "no stored token",
			store: &fakeStore{},
		},
		{
			name: "expired refresh token",
			store: &fakeStore{
				found: true,
				creds: credstore.Credentials{
					RefreshToken:   "stale-refresh",
					RefreshExpires: now.Add(-time.Hour).Unix(),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newStubTokenServer(t)

			authority, err := New(server.URL, tt.store, &refusingPrompter{t}, WithClock(fixedClock(now)))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			err = authority.Authenticate(context.Background())
			if !errors.Is(err, ErrNotLoggedIn) {
				t.Errorf("Authenticate = %v, want ErrNotLoggedIn", err)
			}
			if n := server.refreshCalls.Load() + server.newTokenCalls.Load(); n != 0 {
				t.Errorf("performed %d network calls, want 0", n)
			}
		})
	}
}

func TestAuthenticateRejectedRefreshToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "revoked-refresh",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "ERROR", "response": {"error_description": "Session not active"}}`

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithClock(fixedClock(now)), WithoutEnv())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = authority.Authenticate(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Authenticate = %v, want ErrNotLoggedIn", err)
	}
}

func TestAuthenticateWithoutEnvLeavesEnvironmentAlone(t *testing.T) {
	t.Setenv(TrackingTokenEnv, "preexisting")

	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{
		found: true,
		creds: credstore.Credentials{
			RefreshToken:   "refresh-abc",
			RefreshExpires: now.Add(time.Hour).Unix(),
		},
	}
	server := newStubTokenServer(t)
	server.refreshTokenBody = `{"status": "OK", "response": {"access_token": "T", "expires_in": 1000}}`

	authority, err := New(server.URL, store, &refusingPrompter{t}, WithClock(fixedClock(now)), WithoutEnv())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := authority.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if got := os.Getenv(TrackingTokenEnv); got != "preexisting" {
		t.Errorf("%s = %q, want preexisting", TrackingTokenEnv, got)
	}
	if got := authority.CurrentAccessToken(); got != "T" {
		t.Errorf("CurrentAccessToken = %q, want T", got)
	}
}

func TestTokenSourceDisabled(t *testing.T) {
	authority, err := New("http://localhost:1", &fakeStore{}, &prompt.Static{}, WithEnabled(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := authority.TokenSource(context.Background()).Token(); err == nil {
		t.Error("Token on disabled authority must fail")
	}
}
