// Package prompt abstracts interactive credential entry so the authority can
// be tested with deterministic fixtures instead of a real terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// CredentialPrompter obtains operator credentials interactively.
type CredentialPrompter interface {
	// Username reads the operator's username.
	Username(ctx context.Context) (string, error)

	// Password reads the operator's password without echoing it.
	Password(ctx context.Context) (string, error)
}

// Terminal prompts for credentials on the controlling terminal. The password
// is read with echo disabled when stdin is a TTY.
type Terminal struct {
	in  *os.File
	out io.Writer
}

// Compile-time check to ensure Terminal implements CredentialPrompter
var _ CredentialPrompter = (*Terminal)(nil)

// NewTerminal creates a Terminal reading from stdin and writing prompts to stderr.
func NewTerminal() *Terminal {
	return &Terminal{
		in:  os.Stdin,
		out: os.Stderr,
	}
}

// Username reads a username from the terminal as plain text.
func (t *Terminal) Username(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(t.out, "Username: ")
	line, err := bufio.NewReader(t.in).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading username: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Password reads a password with echo disabled. Falls back to a plain read
// when stdin is not a terminal (e.g., piped input in CI).
func (t *Terminal) Password(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(t.out, "Password: ")
	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		defer fmt.Fprintln(t.out)
		secret, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(t.in).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Static returns fixed credentials. Intended for tests and non-interactive use.
type Static struct {
	User string
	Pass string
}

// Compile-time check to ensure Static implements CredentialPrompter
var _ CredentialPrompter = (*Static)(nil)

// Username returns the fixed username.
func (s *Static) Username(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.User, nil
}

// Password returns the fixed password.
func (s *Static) Password(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Pass, nil
}
