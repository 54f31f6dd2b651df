package session

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = bytes.Repeat([]byte("a"), 32)
	cfg.RefreshSecret = bytes.Repeat([]byte("r"), 32)
	cfg.ClockSkew = 0
	cfg.RefreshHashCost = 4
	return cfg
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(testConfig())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestAccessIssueAndVerify(t *testing.T) {
	c := newTestCodec(t)
	now := time.Now().UTC()

	tok, exp, err := c.IssueAccess("p-1", "p1@example.com", "Principal One", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if want := now.Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}

	claims, err := c.VerifyAccess(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "p-1" || claims.Email != "p1@example.com" || claims.DisplayName != "Principal One" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.TokenKind != KindAccess {
		t.Fatalf("kind = %q", claims.TokenKind)
	}
}

func TestSecretsAreIndependent(t *testing.T) {
	c := newTestCodec(t)
	now := time.Now().UTC()

	access, _, err := c.IssueAccess("p-1", "p1@example.com", "", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	refresh, _, err := c.IssueRefresh("p-1", "p1@example.com", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	// An access assertion verified against the refresh secret must fail as a
	// signature error, and vice versa.
	if _, err := c.VerifyRefresh(access, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifyRefresh(access): want ErrInvalidSignature, got %v", err)
	}
	if _, err := c.VerifyAccess(refresh, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifyAccess(refresh): want ErrInvalidSignature, got %v", err)
	}
}

func TestKindIsEnforcedEvenWithSharedSigning(t *testing.T) {
	// Sign a refresh-kind assertion with the access secret: signature passes,
	// the kind tag must still reject it.
	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	forged := &Codec{cfg: cfg}

	now := time.Now().UTC()
	refresh, _, err := forged.IssueRefresh("p-1", "p1@example.com", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	c := &Codec{cfg: cfg}
	if _, err := c.VerifyAccess(refresh, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature for wrong kind, got %v", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	c := newTestCodec(t)
	now := time.Now().UTC()

	tok, exp, err := c.IssueAccess("p-1", "p1@example.com", "", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	// Any instant before exp verifies.
	if _, err := c.VerifyAccess(tok, exp.Add(-time.Second)); err != nil {
		t.Fatalf("before expiry: %v", err)
	}
	// At or past exp it fails with the expiry error.
	if _, err := c.VerifyAccess(tok, exp); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("at expiry: want ErrTokenExpired, got %v", err)
	}
	if _, err := c.VerifyAccess(tok, exp.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("past expiry: want ErrTokenExpired, got %v", err)
	}
}

func TestTokensWithinSameSecondAreDistinct(t *testing.T) {
	c := newTestCodec(t)
	now := time.Now().UTC().Truncate(time.Second)

	a, _, err := c.IssueAccess("p-1", "p1@example.com", "", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	b, _, err := c.IssueAccess("p-1", "p1@example.com", "", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if a == b {
		t.Fatalf("two assertions issued at the same instant must differ")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)
	now := time.Now().UTC()

	for _, tok := range []string{"", "not.a.jwt", "a.b", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := c.VerifyAccess(tok, now); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("VerifyAccess(%q): want ErrInvalidSignature, got %v", tok, err)
		}
	}
}
