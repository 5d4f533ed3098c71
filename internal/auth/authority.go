package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mariahpope/anemoi-training/internal/credstore"
	"github.com/mariahpope/anemoi-training/internal/prompt"
	"github.com/mariahpope/anemoi-training/internal/tokenapi"
)

// TrackingTokenEnv is the environment variable the MLflow client library reads
// its bearer token from. Authenticate writes the current access token here
// unless the shim is disabled with WithoutEnv.
const TrackingTokenEnv = "MLFLOW_TRACKING_TOKEN"

// DefaultRefreshExpireDays is the assumed lifetime of a refresh token. The
// token server does not report one, so expiry is tracked client-side.
const DefaultRefreshExpireDays = 29

// accessExpiryMargin shaves 30% off the server-declared access token lifetime
// so a token never expires mid-request.
const accessExpiryMargin = 0.7

// Option configures an Authority.
type Option func(*Authority)

// WithRefreshExpireDays overrides the client-side refresh token lifetime.
func WithRefreshExpireDays(days int) Option {
	return func(a *Authority) {
		a.refreshExpireDays = days
	}
}

// WithEnabled turns authentication on or off. A disabled authority is inert:
// no network calls, no state changes, all operations succeed as no-ops.
func WithEnabled(enabled bool) Option {
	return func(a *Authority) {
		a.enabled = enabled
	}
}

// WithHTTPClient sets the HTTP client used for token exchanges.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Authority) {
		a.httpClient = httpClient
	}
}

// WithoutEnv disables the MLFLOW_TRACKING_TOKEN compatibility shim. Downstream
// clients must then obtain tokens via CurrentAccessToken or TokenSource.
func WithoutEnv() Option {
	return func(a *Authority) {
		a.setEnv = false
	}
}

// WithClock injects the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// Authority owns the refresh/access token pair for one logical session. It is
// safe for concurrent use; a single mutex serializes token state transitions.
type Authority struct {
	serverURL         string
	client            *tokenapi.Client
	store             credstore.Store
	prompter          prompt.CredentialPrompter
	httpClient        *http.Client
	enabled           bool
	setEnv            bool
	refreshExpireDays int
	now               func() time.Time

	mu             sync.Mutex
	refreshToken   string
	refreshExpires time.Time
	accessToken    string
	accessExpires  time.Time
}

// New creates an Authority and restores any previously persisted refresh token
// from the store. No network I/O is performed.
func New(serverURL string, store credstore.Store, prompter prompt.CredentialPrompter, opts ...Option) (*Authority, error) {
	if serverURL == "" {
		return nil, ErrMissingURL
	}
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if prompter == nil {
		return nil, fmt.Errorf("missing credential prompter")
	}

	a := &Authority{
		serverURL:         serverURL,
		store:             store,
		prompter:          prompter,
		enabled:           true,
		setEnv:            true,
		refreshExpireDays: DefaultRefreshExpireDays,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	var clientOpts []tokenapi.ClientOption
	if a.httpClient != nil {
		clientOpts = append(clientOpts, tokenapi.WithHTTPClient(a.httpClient))
	}
	client, err := tokenapi.NewClient(serverURL, clientOpts...)
	if err != nil {
		return nil, err
	}
	a.client = client

	creds, err := a.store.Load(context.Background())
	if errors.Is(err, credstore.ErrNotFound) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restoring stored credentials: %w", err)
	}

	a.refreshToken = creds.RefreshToken
	if creds.RefreshExpires > 0 {
		a.refreshExpires = time.Unix(creds.RefreshExpires, 0)
	}
	return a, nil
}

// Login acquires a new refresh token and persists it.
//
// If a valid refresh token is already held it is silently renewed; otherwise,
// or when forceCredentials is set, the operator is prompted for username and
// password. Intended to be called once, interactively, right before starting
// a training run. Returns ErrLoginFailed when neither path yields a token.
func (a *Authority) Login(ctx context.Context, forceCredentials bool) error {
	if !a.enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	slog.InfoContext(ctx, "logging in", "url", a.serverURL)

	var newRefreshToken string

	if !forceCredentials && a.refreshToken != "" && a.refreshExpires.After(a.now()) {
		result, err := a.client.RefreshToken(ctx, a.refreshToken)
		if err != nil {
			return err
		}
		newRefreshToken = result.Token.RefreshToken
	}

	if newRefreshToken == "" {
		slog.InfoContext(ctx, "please sign in with your credentials")
		username, err := a.prompter.Username(ctx)
		if err != nil {
			return err
		}
		password, err := a.prompter.Password(ctx)
		if err != nil {
			return err
		}

		result, err := a.client.NewToken(ctx, username, password)
		if err != nil {
			return err
		}
		newRefreshToken = result.Token.RefreshToken
	}

	if newRefreshToken == "" {
		return ErrLoginFailed
	}

	expires := a.now().Add(time.Duration(a.refreshExpireDays) * 24 * time.Hour)
	if err := a.store.Save(ctx, credstore.Credentials{
		RefreshToken:   newRefreshToken,
		RefreshExpires: expires.Unix(),
	}); err != nil {
		return fmt.Errorf("persisting refresh token: %w", err)
	}

	a.refreshToken = newRefreshToken
	a.refreshExpires = expires

	slog.InfoContext(ctx, "successfully logged in to MLflow")
	return nil
}

// Authenticate ensures a valid access token is available, minting one from the
// refresh token when the in-memory token is missing or expired. Intended to be
// called before every tracking API request; the fast path performs no I/O.
// Returns ErrNotLoggedIn when no valid refresh token is held.
func (a *Authority) Authenticate(ctx context.Context) error {
	if !a.enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.accessToken != "" && a.accessExpires.After(now) {
		return nil
	}

	if a.refreshToken == "" || !a.refreshExpires.After(now) {
		return ErrNotLoggedIn
	}

	result, err := a.client.RefreshToken(ctx, a.refreshToken)
	if err != nil {
		return err
	}
	if result.Rejected != nil || result.Token.AccessToken == "" {
		// The server rejected the refresh token. Operationally the same as
		// never having logged in.
		return fmt.Errorf("refresh token rejected: %w", ErrNotLoggedIn)
	}

	a.accessToken = result.Token.AccessToken
	a.accessExpires = now.Add(time.Duration(result.Token.ExpiresIn * accessExpiryMargin * float64(time.Second)))

	if a.setEnv {
		if err := os.Setenv(TrackingTokenEnv, a.accessToken); err != nil {
			return fmt.Errorf("publishing access token: %w", err)
		}
	}

	slog.DebugContext(ctx, "access token refreshed")
	return nil
}

// CurrentAccessToken returns the in-memory access token, or the empty string
// if none is held. It does not renew; call Authenticate first.
func (a *Authority) CurrentAccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessToken
}

// Enabled reports whether the authority performs authentication at all.
func (a *Authority) Enabled() bool {
	return a.enabled
}
