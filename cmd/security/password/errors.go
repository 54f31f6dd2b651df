package password

import "errors"

var (
	// ErrInvalidHash is returned when an encoded hash is malformed or uses
	// parameters outside the accepted bounds.
	ErrInvalidHash = errors.New("invalid argon2id hash")

	// ErrPasswordTooShort is returned when the plaintext is below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrPasswordTooLong is returned when the plaintext exceeds the maximum length.
	ErrPasswordTooLong = errors.New("password too long")
)
