// Package auth manages the credential lifecycle for an MLflow tracking
// service that sits behind a Keycloak-style token server.
//
// Two nested credentials are tracked. A long-lived refresh token is acquired
// interactively via Login, persisted through a credstore.Store, and silently
// renewed while still valid. A short-lived access token is minted on demand by
// Authenticate, held in memory only, and handed to downstream clients either
// through the MLFLOW_TRACKING_TOKEN environment variable (compatibility shim)
// or through the oauth2.TokenSource adapter:
//
//	authority, err := auth.New(serverURL, store, prompt.NewTerminal())
//	// before a run starts, interactively:
//	err = authority.Login(ctx, false)
//	// before every API call, transparently:
//	err = authority.Authenticate(ctx)
//
// Login is expected to run once, interactively, before a long training job
// starts. Authenticate is cheap to call repeatedly: it only performs network
// I/O when the in-memory access token is missing or about to expire.
package auth
