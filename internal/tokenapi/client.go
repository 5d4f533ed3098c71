package tokenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds each token-exchange request. The original client relied
// on the transport's defaults; here the bound is explicit and overridable.
const DefaultTimeout = 30 * time.Second

// Payload is the decoded "response" object of a successful exchange. Which
// fields are populated depends on the operation: /newtoken and login-time
// refreshes return RefreshToken, authenticate-time refreshes return
// AccessToken and ExpiresIn.
type Payload struct {
	RefreshToken string  `json:"refresh_token"`
	AccessToken  string  `json:"access_token"`
	ExpiresIn    float64 `json:"expires_in"`
}

// Rejection is a well-formed server response declining the request
// (status "ERROR" on a 2xx reply), as opposed to a transport failure.
type Rejection struct {
	Description string
}

// Result is the outcome of one token exchange: either a token payload or a
// soft rejection. Hard transport and protocol failures are returned as errors
// instead.
type Result struct {
	Token    Payload
	Rejected *Rejection // non-nil when the server declined the request
}

// StatusError is a non-2xx response from the token server. It is propagated
// unchanged to the caller and never retried by this package.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token server returned HTTP %d: %s", e.Code, e.Body)
}

// envelope is the server's response wrapper. Response stays raw because its
// shape depends on both the operation and the status field.
type envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// errorPayload is the server's rejection detail.
type errorPayload struct {
	ErrorDescription string `json:"error_description"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for token exchanges (e.g., for
// proxies or custom timeouts). If not provided, a client with DefaultTimeout
// is used.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the MLflow token server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the token server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("token server URL cannot be empty")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewToken exchanges operator credentials for a refresh token via /newtoken.
func (c *Client) NewToken(ctx context.Context, username, password string) (Result, error) {
	return c.post(ctx, "newtoken", map[string]string{
		"username": username,
		"password": password,
	})
}

// RefreshToken exchanges an existing refresh token via /refreshtoken. The
// caller reads RefreshToken (login-time renewal) or AccessToken + ExpiresIn
// (authenticate-time exchange) from the payload.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Result, error) {
	return c.post(ctx, "refreshtoken", map[string]string{
		"refresh_token": refreshToken,
	})
}

// post performs one token exchange and decodes the response envelope.
func (c *Client) post(ctx context.Context, path string, payload map[string]string) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}

	// The body is JSON but the server expects this content type. Declaring
	// application/json breaks the existing deployment.
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "token exchange failed", "path", path, "request_id", requestID, "error", err)
		return Result{}, fmt.Errorf("posting to %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.ErrorContext(ctx, "reading token server response failed", "path", path, "request_id", requestID, "error", err)
		return Result{}, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		slog.ErrorContext(ctx, "token server returned error status", "path", path, "request_id", requestID, "status", resp.StatusCode)
		return Result{}, statusErr
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		slog.ErrorContext(ctx, "malformed token server response", "path", path, "request_id", requestID, "error", err)
		return Result{}, fmt.Errorf("decoding response from %s: %w", path, err)
	}

	if env.Status == "ERROR" {
		// A rejection is not an error here. The caller decides what the
		// absence of a token means.
		description := rejectionDescription(env.Response)
		slog.WarnContext(ctx, "token request rejected", "path", path, "request_id", requestID,
			"description", description)
		return Result{Rejected: &Rejection{Description: description}}, nil
	}

	var token Payload
	if err := json.Unmarshal(env.Response, &token); err != nil {
		slog.ErrorContext(ctx, "malformed token payload", "path", path, "request_id", requestID, "error", err)
		return Result{}, fmt.Errorf("decoding token payload from %s: %w", path, err)
	}
	return Result{Token: token}, nil
}

// rejectionDescription extracts error_description from a rejection payload.
// The server sometimes double-encodes the payload as a JSON string containing
// a JSON object, so decoding falls back to unwrapping the string first.
func rejectionDescription(raw json.RawMessage) string {
	var detail errorPayload
	if err := json.Unmarshal(raw, &detail); err != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return "error acquiring token"
		}
		if err := json.Unmarshal([]byte(encoded), &detail); err != nil {
			return "error acquiring token"
		}
	}
	if detail.ErrorDescription == "" {
		return "error acquiring token"
	}
	return detail.ErrorDescription
}
