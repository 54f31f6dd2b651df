// Package token provides one-way hashing for refresh tokens at rest.
//
// Hashes are bcrypt over a SHA-256 pre-digest: bcrypt caps its input at 72
// bytes and signed refresh assertions are far longer, so the plaintext is
// digested first. Because bcrypt is salted, equal tokens produce different
// hashes; lookup therefore requires a per-candidate Compare rather than a
// match on the stored value.
package token

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor for stored refresh-token hashes.
const DefaultCost = 10

// Hash returns a bcrypt hash of tok suitable for server-side storage.
// The plaintext must not be retained after this call.
func Hash(tok string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword(digest(tok), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Compare reports whether tok matches a stored hash.
func Compare(tok, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest(tok)) == nil
}

func digest(tok string) []byte {
	sum := sha256.Sum256([]byte(tok))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
