package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// tokenSource adapts an Authority to oauth2.TokenSource so the tracking HTTP
// client can use oauth2.Transport instead of reading the environment variable.
type tokenSource struct {
	authority *Authority
	ctx       context.Context
}

// Compile-time check to ensure tokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*tokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by this authority. Each
// Token call runs Authenticate, so tokens are renewed transparently. The
// context is captured at construction because oauth2.TokenSource.Token has no
// context parameter.
func (a *Authority) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{
		authority: a,
		ctx:       ctx,
	}
}

// Token returns a valid access token, minting one if necessary.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if !ts.authority.enabled {
		return nil, fmt.Errorf("authentication is disabled")
	}

	if err := ts.authority.Authenticate(ts.ctx); err != nil {
		return nil, err
	}

	ts.authority.mu.Lock()
	defer ts.authority.mu.Unlock()

	return &oauth2.Token{
		AccessToken: ts.authority.accessToken,
		TokenType:   "Bearer",
		Expiry:      ts.authority.accessExpires,
	}, nil
}
