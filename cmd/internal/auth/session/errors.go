package session

import "errors"

var (
	// ErrInvalidCredentials is returned on sign-in for a wrong password or an
	// unknown/inactive principal. The cases are deliberately
	// indistinguishable to avoid account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is the collapsed refresh-flow failure: bad signature,
	// expired, revoked, or no matching stored hash.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidSignature is the codec-level failure for a token whose
	// signature, structure or kind does not match expectations.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrTokenExpired is the codec-level failure for a structurally valid
	// token whose embedded expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrNotFound is returned when a referenced principal no longer exists
	// or is inactive.
	ErrNotFound = errors.New("principal not found")

	// ErrNoRecord is returned by stores when no valid refresh record matches.
	ErrNoRecord = errors.New("no matching refresh record")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
