// Package credstore provides persistent storage abstractions for the refresh
// token record written by interactive logins.
//
// Supports two storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Only the refresh token and its expiry are ever persisted. Access tokens are
// short-lived and held in memory by the authority that minted them.
package credstore
