package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no principal matches the given identity.
	ErrNotFound = errors.New("principal not found")

	// ErrDuplicate is returned when a unique constraint (email, username) is violated.
	ErrDuplicate = errors.New("principal already exists")

	// ErrInvalidInput is returned for structurally invalid create requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Principal is the canonical security principal. It never carries the
// credential hash; see Credential.
type Principal struct {
	ID          string
	Email       string
	Username    string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
}

// Credential pairs a principal with its stored password hash for sign-in
// verification. It must never be serialized.
type Credential struct {
	Principal    Principal
	PasswordHash string
}

// CreateInput describes a principal registration request. Password arrives
// in plaintext and is hashed by the store; it must never be persisted as-is.
type CreateInput struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
	Now         time.Time
}

// Store is the principal persistence boundary.
type Store interface {
	// Create registers a new principal. Email and username are unique;
	// violations surface as ErrDuplicate.
	Create(ctx context.Context, in CreateInput) (Principal, error)

	// GetByID loads a principal by ID. Missing rows return ErrNotFound.
	GetByID(ctx context.Context, id string) (Principal, error)

	// GetCredential loads a principal plus credential hash by email or
	// username. Missing rows return ErrNotFound; the caller is responsible
	// for keeping that outcome indistinguishable from a bad password.
	GetCredential(ctx context.Context, login string) (Credential, error)

	// Deactivate marks a principal inactive. Idempotent.
	Deactivate(ctx context.Context, id string) error
}

// NormalizeLogin canonicalizes an email or username for lookup.
func NormalizeLogin(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
