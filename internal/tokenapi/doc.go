// Package tokenapi implements the wire protocol of the MLflow token server.
//
// The server deviates from standard OAuth2 in ways that require custom handling:
//   - Request bodies are JSON-encoded but must declare
//     Content-Type: application/x-www-form-urlencoded (the server rejects
//     requests that declare application/json)
//   - Responses arrive in an envelope {"status": "OK"|"ERROR", "response": ...}
//     rather than as a bare token object
//   - Error payloads are sometimes double-encoded: the "response" field may be
//     a JSON string that itself contains a JSON object
//
// Two logical operations exist. POST /newtoken exchanges operator credentials
// for a refresh token, POST /refreshtoken exchanges a refresh token for either
// a new refresh token or an access token. The same endpoint serves both refresh
// purposes, differentiated only by which field the caller reads.
//
// A server-side rejection (status "ERROR" on a 2xx response) is not an error
// from this package's perspective: it is logged and reported through the
// Rejected arm of the Result, leaving the consequence to the caller. Transport
// failures and malformed responses are returned as errors and never retried
// here.
package tokenapi
