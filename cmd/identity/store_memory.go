package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pulse/cmd/identity/ids"
	"pulse/cmd/security/password"
)

// MemoryStore is an in-memory Store used in dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memPrincipal
	byLogin map[string]string // normalized email/username -> id
	params  password.Params
}

type memPrincipal struct {
	p    Principal
	hash string
}

// NewMemoryStore constructs an empty in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memPrincipal),
		byLogin: make(map[string]string),
		params:  password.DefaultParams(),
	}
}

// Create registers a new principal.
func (s *MemoryStore) Create(_ context.Context, in CreateInput) (Principal, error) {
	email := NormalizeLogin(in.Email)
	username := NormalizeLogin(in.Username)
	display := strings.TrimSpace(in.DisplayName)

	if email == "" || username == "" {
		return Principal{}, fmt.Errorf("%w: email and username are required", ErrInvalidInput)
	}
	if display == "" {
		display = username
	}

	hash, err := password.Hash(in.Password, s.params)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byLogin[email]; exists {
		return Principal{}, ErrDuplicate
	}
	if _, exists := s.byLogin[username]; exists {
		return Principal{}, ErrDuplicate
	}

	p := Principal{
		ID:          id,
		Email:       email,
		Username:    username,
		DisplayName: display,
		Active:      true,
		CreatedAt:   now,
	}
	s.byID[id] = &memPrincipal{p: p, hash: hash}
	s.byLogin[email] = id
	s.byLogin[username] = id

	return p, nil
}

// GetByID loads a principal by ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return mp.p, nil
}

// GetCredential loads a principal plus hash by email or username.
func (s *MemoryStore) GetCredential(_ context.Context, login string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLogin[NormalizeLogin(login)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	mp := s.byID[id]
	return Credential{Principal: mp.p, PasswordHash: mp.hash}, nil
}

// Deactivate marks a principal inactive (idempotent).
func (s *MemoryStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mp, ok := s.byID[id]; ok {
		mp.p.Active = false
	}
	return nil
}
