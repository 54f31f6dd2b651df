package session

import (
	"context"
	"time"
)

// RefreshRecord is the durable trace of an issued refresh assertion.
// TokenHash is a salted one-way hash; the plaintext is never stored.
type RefreshRecord struct {
	ID          string
	PrincipalID string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
}

// ValidAt reports whether the record may be used at the given instant.
// Revocation is monotonic: once Revoked is set, no path clears it.
func (r RefreshRecord) ValidAt(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// Store abstracts refresh-record persistence.
//
// Because stored hashes are salted, FindValidByPlaintext cannot look up by
// hash equality: it fetches the principal's candidates and runs a one-way
// comparison per candidate. The per-principal session cap enforced by
// Persist keeps that scan bounded.
type Store interface {
	// Persist hashes plaintext and writes a new record. At the session cap
	// the principal's oldest live record is revoked first.
	Persist(ctx context.Context, now time.Time, principalID, plaintext string, expiresAt time.Time) (RefreshRecord, error)

	// FindValidByPlaintext returns the principal's record whose stored hash
	// matches plaintext, provided it is valid at now. ErrNoRecord when no
	// hash matches or the matching record is revoked or expired.
	FindValidByPlaintext(ctx context.Context, now time.Time, principalID, plaintext string) (RefreshRecord, error)

	// Revoke sets the revoked flag on one record. Idempotent.
	Revoke(ctx context.Context, id string) error

	// RevokeAll revokes every live record for the principal in one atomic
	// bulk update and reports how many were flipped.
	RevokeAll(ctx context.Context, principalID string) (int64, error)

	// PurgeExpired deletes records past their expiry. Validity never depends
	// on this sweep; it only reclaims storage.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
