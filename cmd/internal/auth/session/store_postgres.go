package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse/cmd/identity/ids"
	"pulse/cmd/security/token"
)

// PostgresStore implements Store using PostgreSQL (pulse.refresh_tokens).
// Single-row updates rely on Postgres per-row atomicity; RevokeAll is one
// bulk UPDATE so it cannot lose a concurrent revocation.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxSessions int
	hashCost    int
}

// NewPostgresStore creates a Postgres-backed refresh-record store.
func NewPostgresStore(pool *pgxpool.Pool, cfg Config) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	if cfg.MaxSessionsPerPrincipal <= 0 {
		return nil, ErrConfig
	}
	return &PostgresStore{
		pool:        pool,
		maxSessions: cfg.MaxSessionsPerPrincipal,
		hashCost:    cfg.RefreshHashCost,
	}, nil
}

// Persist hashes plaintext and inserts a new record, evicting the oldest
// live record when the principal is at the session cap.
func (s *PostgresStore) Persist(ctx context.Context, now time.Time, principalID, plaintext string, expiresAt time.Time) (RefreshRecord, error) {
	hash, err := token.Hash(plaintext, s.hashCost)
	if err != nil {
		return RefreshRecord{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return RefreshRecord{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RefreshRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Evict oldest live records beyond the cap. The subquery is ordered so
	// concurrent sign-ins for one principal evict deterministically.
	_, err = tx.Exec(ctx, `
		UPDATE pulse.refresh_tokens
		SET revoked = TRUE
		WHERE id IN (
			SELECT id FROM pulse.refresh_tokens
			WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
			ORDER BY created_at DESC
			OFFSET $3
			FOR UPDATE
		)
	`, principalID, now, s.maxSessions-1)
	if err != nil {
		return RefreshRecord{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pulse.refresh_tokens (
			id, principal_id, token_hash, created_at, expires_at, revoked
		) VALUES ($1, $2, $3, $4, $5, FALSE)
	`, id, principalID, hash, now, expiresAt)
	if err != nil {
		return RefreshRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RefreshRecord{}, err
	}

	return RefreshRecord{
		ID:          id,
		PrincipalID: principalID,
		TokenHash:   hash,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Revoked:     false,
	}, nil
}

// FindValidByPlaintext fetches all of the principal's records and compares
// the plaintext against each stored hash until one matches.
func (s *PostgresStore) FindValidByPlaintext(ctx context.Context, now time.Time, principalID, plaintext string) (RefreshRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, principal_id, token_hash, created_at, expires_at, revoked
		FROM pulse.refresh_tokens
		WHERE principal_id = $1
		ORDER BY created_at DESC
	`, principalID)
	if err != nil {
		return RefreshRecord{}, err
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RefreshRecord, error) {
		var r RefreshRecord
		err := row.Scan(&r.ID, &r.PrincipalID, &r.TokenHash, &r.CreatedAt, &r.ExpiresAt, &r.Revoked)
		return r, err
	})
	if err != nil {
		return RefreshRecord{}, err
	}

	for _, r := range recs {
		if !token.Compare(plaintext, r.TokenHash) {
			continue
		}
		if !r.ValidAt(now) {
			return RefreshRecord{}, ErrNoRecord
		}
		return r, nil
	}
	return RefreshRecord{}, ErrNoRecord
}

// Revoke flips a single record's revoked flag (idempotent, monotonic).
func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pulse.refresh_tokens SET revoked = TRUE WHERE id = $1
	`, id)
	return err
}

// RevokeAll revokes every live record for the principal in one statement.
func (s *PostgresStore) RevokeAll(ctx context.Context, principalID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse.refresh_tokens
		SET revoked = TRUE
		WHERE principal_id = $1 AND NOT revoked
	`, principalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeExpired deletes records past expiry.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM pulse.refresh_tokens WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
