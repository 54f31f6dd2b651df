package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Assertion kinds. Each kind is bound to its own secret and rejected by the
// verifier for the other kind, so a leaked access assertion can never be
// replayed as a refresh assertion even if the secrets were ever unified.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// AccessClaims is the typed claim set of an access assertion.
type AccessClaims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	TokenKind   string `json:"kind"`
	jwt.RegisteredClaims
}

// RefreshClaims is the typed claim set of a refresh assertion.
type RefreshClaims struct {
	Email     string `json:"email,omitempty"`
	TokenKind string `json:"kind"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh assertions (HS256) with two
// independent secrets and independent TTLs. All operations are pure; nothing
// here touches storage.
type Codec struct {
	cfg Config
}

// NewCodec validates cfg and constructs a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{cfg: cfg}, nil
}

// IssueAccess signs a short-lived access assertion for the given principal.
func (c *Codec) IssueAccess(subject, email, displayName string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.cfg.AccessTTL)

	claims := AccessClaims{
		Email:       email,
		DisplayName: displayName,
		TokenKind:   KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// A fresh jti guarantees two assertions minted within the same
			// second are still distinct tokens.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh signs a long-lived refresh assertion. Persisting its hash is
// the caller's responsibility; the codec has no side effects.
func (c *Codec) IssueRefresh(subject, email string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.cfg.RefreshTTL)

	claims := RefreshClaims{
		Email:     email,
		TokenKind: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess checks signature, expiry, issuer and kind of an access
// assertion. Failures map to ErrTokenExpired or ErrInvalidSignature.
func (c *Codec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(token, &claims, c.cfg.AccessSecret, now); err != nil {
		return AccessClaims{}, err
	}
	if claims.TokenKind != KindAccess || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidSignature
	}
	return claims, nil
}

// VerifyRefresh checks signature, expiry, issuer and kind of a refresh
// assertion.
func (c *Codec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(token, &claims, c.cfg.RefreshSecret, now); err != nil {
		return RefreshClaims{}, err
	}
	if claims.TokenKind != KindRefresh || claims.Subject == "" {
		return RefreshClaims{}, ErrInvalidSignature
	}
	return claims, nil
}

func (c *Codec) parse(token string, claims jwt.Claims, secret []byte, now time.Time) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrInvalidSignature
	}
}
