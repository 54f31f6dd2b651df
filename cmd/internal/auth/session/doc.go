// Package session implements the token and session lifecycle core.
//
// It issues and verifies signed access/refresh assertions with two
// independent secrets, persists refresh tokens as one-way hashes, and
// orchestrates sign-in, refresh, sign-out and sign-out-all. Raw codec and
// storage errors never leave this package's Service: callers see only the
// normalized taxonomy in errors.go.
package session
