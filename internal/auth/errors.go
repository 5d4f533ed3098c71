package auth

import "errors"

// ErrMissingURL means the authority was constructed without a token server URL.
var ErrMissingURL = errors.New("token server URL is required")

// ErrLoginFailed means Login exhausted both the silent-renewal and the
// credential-prompt paths without obtaining a refresh token. The operator
// must retry.
var ErrLoginFailed = errors.New("failed to log in")

// ErrNotLoggedIn means Authenticate was called without a valid refresh token.
// The caller must run Login first.
var ErrNotLoggedIn = errors.New("not logged in to MLflow, please log in first")
