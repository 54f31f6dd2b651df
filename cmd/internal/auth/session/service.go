package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/cmd/identity"
	"pulse/cmd/security/password"
)

// Service implements the session lifecycle: sign-in, refresh, sign-out and
// sign-out-all. It is the normalization boundary for the error taxonomy;
// codec and store failures never escape raw.
type Service struct {
	cfg        Config
	codec      *Codec
	principals identity.Store
	store      Store

	// dummyHash makes sign-in latency for unknown principals match the
	// known-principal path.
	dummyHash string
}

// Issued is the result of a successful sign-in.
type Issued struct {
	AccessToken string
	AccessExp   time.Time

	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service from config and its two collaborators.
func NewService(cfg Config, principals identity.Store, store Store) (*Service, error) {
	codec, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		codec:      codec,
		principals: principals,
		store:      store,
	}

	if hash, err := password.Hash("dummy-password-for-timing-only", password.DefaultParams()); err == nil {
		s.dummyHash = hash
	}

	return s, nil
}

// SignIn verifies credentials and issues a fresh token pair. Unknown
// principal, inactive principal and wrong password all return
// ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, now time.Time, login, plainPassword string) (Issued, identity.Principal, error) {
	cred, err := s.principals.GetCredential(ctx, login)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			if s.dummyHash != "" {
				_, _ = password.Verify(plainPassword, s.dummyHash)
			}
			return Issued{}, identity.Principal{}, ErrInvalidCredentials
		}
		return Issued{}, identity.Principal{}, fmt.Errorf("signin: lookup: %w", err)
	}

	ok, err := password.Verify(plainPassword, cred.PasswordHash)
	if err != nil || !ok || !cred.Principal.Active {
		return Issued{}, identity.Principal{}, ErrInvalidCredentials
	}

	p := cred.Principal

	access, accessExp, err := s.codec.IssueAccess(p.ID, p.Email, p.DisplayName, now)
	if err != nil {
		return Issued{}, identity.Principal{}, fmt.Errorf("signin: issue access: %w", err)
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(p.ID, p.Email, now)
	if err != nil {
		return Issued{}, identity.Principal{}, fmt.Errorf("signin: issue refresh: %w", err)
	}

	if _, err := s.store.Persist(ctx, now, p.ID, refresh, refreshExp); err != nil {
		return Issued{}, identity.Principal{}, fmt.Errorf("signin: persist refresh: %w", err)
	}

	return Issued{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, p, nil
}

// Refresh exchanges a valid refresh assertion for a new access assertion.
// The refresh assertion is not rotated: the stored record stays valid until
// explicit revocation or expiry. Every failure mode collapses to
// ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshPlain string) (string, time.Time, error) {
	claims, err := s.codec.VerifyRefresh(refreshPlain, now)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}

	if _, err := s.store.FindValidByPlaintext(ctx, now, claims.Subject, refreshPlain); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return "", time.Time{}, ErrInvalidToken
		}
		return "", time.Time{}, fmt.Errorf("refresh: lookup record: %w", err)
	}

	// Re-read the principal so the new assertion carries current data and
	// deleted/deactivated principals stop refreshing.
	p, err := s.principals.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", time.Time{}, ErrInvalidToken
		}
		return "", time.Time{}, fmt.Errorf("refresh: load principal: %w", err)
	}
	if !p.Active {
		return "", time.Time{}, ErrInvalidToken
	}

	access, exp, err := s.codec.IssueAccess(p.ID, p.Email, p.DisplayName, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh: issue access: %w", err)
	}
	return access, exp, nil
}

// SignOut revokes the record matching the presented refresh assertion. It is
// idempotent from the caller's perspective: a token whose record is already
// gone still yields success. Only signature/expiry failure returns
// ErrInvalidToken.
func (s *Service) SignOut(ctx context.Context, now time.Time, refreshPlain string) error {
	claims, err := s.codec.VerifyRefresh(refreshPlain, now)
	if err != nil {
		return ErrInvalidToken
	}

	rec, err := s.store.FindValidByPlaintext(ctx, now, claims.Subject, refreshPlain)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil
		}
		return fmt.Errorf("signout: lookup record: %w", err)
	}

	if err := s.store.Revoke(ctx, rec.ID); err != nil {
		return fmt.Errorf("signout: revoke: %w", err)
	}
	return nil
}

// SignOutAll revokes every live record for the principal proven by the
// presented refresh assertion. The assertion must be valid and backed by a
// live record; identity is never taken from an unauthenticated caller.
func (s *Service) SignOutAll(ctx context.Context, now time.Time, refreshPlain string) (int64, error) {
	claims, err := s.codec.VerifyRefresh(refreshPlain, now)
	if err != nil {
		return 0, ErrInvalidToken
	}

	if _, err := s.store.FindValidByPlaintext(ctx, now, claims.Subject, refreshPlain); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("signout_all: lookup record: %w", err)
	}

	n, err := s.store.RevokeAll(ctx, claims.Subject)
	if err != nil {
		return 0, fmt.Errorf("signout_all: revoke all: %w", err)
	}
	return n, nil
}

// VerifyAccess verifies an access assertion. Used by the HTTP bearer path
// and the realtime handshake.
func (s *Service) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	return s.codec.VerifyAccess(token, now)
}

// VerifyAccessSubject verifies an access assertion and returns its subject.
// Convenience form for callers that only need the principal id.
func (s *Service) VerifyAccessSubject(token string, now time.Time) (string, error) {
	claims, err := s.codec.VerifyAccess(token, now)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// PrincipalByID resolves a live principal view. Missing or inactive
// principals return ErrNotFound.
func (s *Service) PrincipalByID(ctx context.Context, id string) (identity.Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Principal{}, ErrNotFound
		}
		return identity.Principal{}, fmt.Errorf("principal lookup: %w", err)
	}
	if !p.Active {
		return identity.Principal{}, ErrNotFound
	}
	return p, nil
}
