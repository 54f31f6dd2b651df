package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse/cmd/identity/ids"
	"pulse/cmd/security/password"
)

// PostgresStore implements Store over PostgreSQL (pulse.principals).
// The pgx pool is owned by the caller; this store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	params password.Params
}

// NewPostgresStore constructs a Postgres-backed principal store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return &PostgresStore{pool: pool, params: password.DefaultParams()}, nil
}

// Create inserts a new principal with a hashed credential.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Principal, error) {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse.principals (
			id, email, username, display_name, password_hash, active, created_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6)
	`, id, email, username, display, hash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Principal{}, ErrDuplicate
		}
		return Principal{}, err
	}

	return Principal{
		ID:          id,
		Email:       email,
		Username:    username,
		DisplayName: display,
		Active:      true,
		CreatedAt:   now,
	}, nil
}

// GetByID loads a principal by ID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, username, display_name, active, created_at
		FROM pulse.principals
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.Username, &p.DisplayName, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrNotFound
	}
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}

// GetCredential loads a principal and its password hash by email or username.
func (s *PostgresStore) GetCredential(ctx context.Context, login string) (Credential, error) {
	login = NormalizeLogin(login)

	var c Credential
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, username, display_name, active, created_at, password_hash
		FROM pulse.principals
		WHERE email = $1 OR username = $1
	`, login).Scan(
		&c.Principal.ID,
		&c.Principal.Email,
		&c.Principal.Username,
		&c.Principal.DisplayName,
		&c.Principal.Active,
		&c.Principal.CreatedAt,
		&c.PasswordHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Deactivate marks a principal inactive (idempotent).
func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pulse.principals SET active = FALSE WHERE id = $1
	`, id)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
