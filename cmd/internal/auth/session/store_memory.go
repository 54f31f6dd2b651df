package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulse/cmd/identity/ids"
	"pulse/cmd/security/token"
)

// MemoryStore is an in-memory Store for dev mode and tests. Mutations are
// serialized by a single mutex, mirroring the per-document atomicity the
// Postgres store gets from the database.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]*RefreshRecord // by record ID
	maxSessions int
	hashCost    int
}

// NewMemoryStore constructs an empty in-memory refresh-record store.
func NewMemoryStore(cfg Config) *MemoryStore {
	max := cfg.MaxSessionsPerPrincipal
	if max <= 0 {
		max = DefaultConfig().MaxSessionsPerPrincipal
	}
	cost := cfg.RefreshHashCost
	return &MemoryStore{
		records:     make(map[string]*RefreshRecord),
		maxSessions: max,
		hashCost:    cost,
	}
}

// Persist hashes plaintext and stores a new record, evicting the oldest live
// record at the cap.
func (s *MemoryStore) Persist(_ context.Context, now time.Time, principalID, plaintext string, expiresAt time.Time) (RefreshRecord, error) {
	hash, err := token.Hash(plaintext, s.hashCost)
	if err != nil {
		return RefreshRecord{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return RefreshRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveLocked(principalID, now)
	if len(live) >= s.maxSessions {
		// Oldest first; revoke enough to leave room for the new record.
		sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
		for _, r := range live[:len(live)-s.maxSessions+1] {
			r.Revoked = true
		}
	}

	rec := RefreshRecord{
		ID:          id,
		PrincipalID: principalID,
		TokenHash:   hash,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Revoked:     false,
	}
	s.records[id] = &rec

	return rec, nil
}

// FindValidByPlaintext compares plaintext against each stored hash for the
// principal until one matches.
func (s *MemoryStore) FindValidByPlaintext(_ context.Context, now time.Time, principalID, plaintext string) (RefreshRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.PrincipalID != principalID {
			continue
		}
		if !token.Compare(plaintext, r.TokenHash) {
			continue
		}
		if !r.ValidAt(now) {
			return RefreshRecord{}, ErrNoRecord
		}
		return *r, nil
	}
	return RefreshRecord{}, ErrNoRecord
}

// Revoke flips the revoked flag on one record (idempotent).
func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[id]; ok {
		r.Revoked = true
	}
	return nil
}

// RevokeAll revokes every live record for the principal.
func (s *MemoryStore) RevokeAll(_ context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.records {
		if r.PrincipalID == principalID && !r.Revoked {
			r.Revoked = true
			n++
		}
	}
	return n, nil
}

// PurgeExpired deletes records past expiry.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if !now.Before(r.ExpiresAt) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) liveLocked(principalID string, now time.Time) []*RefreshRecord {
	var out []*RefreshRecord
	for _, r := range s.records {
		if r.PrincipalID == principalID && r.ValidAt(now) {
			out = append(out, r)
		}
	}
	return out
}
