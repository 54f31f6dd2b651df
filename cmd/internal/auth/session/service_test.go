package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulse/cmd/identity"
)

type fixture struct {
	svc        *Service
	principals *identity.MemoryStore
	store      *MemoryStore
	principal  identity.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	principals := identity.NewMemoryStore()
	store := NewMemoryStore(cfg)

	svc, err := NewService(cfg, principals, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	p, err := principals.Create(context.Background(), identity.CreateInput{
		Email:       "ada@example.com",
		Username:    "ada",
		DisplayName: "Ada Lovelace",
		Password:    "difference-engine-9",
	})
	if err != nil {
		t.Fatalf("Create principal: %v", err)
	}

	return &fixture{svc: svc, principals: principals, store: store, principal: p}
}

func TestSignInSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, p, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if p.ID != f.principal.ID {
		t.Fatalf("principal = %+v", p)
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", issued)
	}
	if issued.AccessToken == issued.RefreshToken {
		t.Fatalf("access and refresh must differ")
	}

	claims, err := f.svc.VerifyAccess(issued.AccessToken, now)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != p.ID {
		t.Fatalf("subject = %q, want %q", claims.Subject, p.ID)
	}
}

func TestSignInFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cases := []struct {
		name, login, password string
	}{
		{"wrong password", "ada", "not-the-password"},
		{"unknown principal", "nobody", "difference-engine-9"},
	}
	for _, tc := range cases {
		if _, _, err := f.svc.SignIn(ctx, now, tc.login, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: want ErrInvalidCredentials, got %v", tc.name, err)
		}
	}

	// Inactive principals get the same answer.
	if err := f.principals.Deactivate(ctx, f.principal.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive principal: want ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshDoesNotRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	// The same refresh token works repeatedly and yields distinct access
	// tokens each time.
	a1, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	a2, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if a1 == a2 {
		t.Fatalf("refresh must mint distinct access tokens")
	}
	if a1 == issued.AccessToken || a2 == issued.AccessToken {
		t.Fatalf("refreshed access token must differ from the sign-in token")
	}
}

func TestRefreshFailsForUnknownOrForgedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, _, err := f.svc.Refresh(ctx, now, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: want ErrInvalidToken, got %v", err)
	}

	// A structurally valid refresh assertion that was never persisted: the
	// store has no matching hash, so it must be rejected.
	codec, err := NewCodec(testConfig())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	phantom, _, err := codec.IssueRefresh(f.principal.ID, f.principal.Email, now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, now, phantom); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unpersisted token: want ErrInvalidToken, got %v", err)
	}
}

func TestRefreshFailsForDeactivatedPrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := f.principals.Deactivate(ctx, f.principal.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if _, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("deactivated principal: want ErrInvalidToken, got %v", err)
	}
}

func TestSignOutThenRefreshFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if err := f.svc.SignOut(ctx, now, issued.RefreshToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	// Idempotent: a second sign-out with the same token still succeeds.
	if err := f.svc.SignOut(ctx, now, issued.RefreshToken); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}

	if _, _, err := f.svc.Refresh(ctx, now, issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after signout: want ErrInvalidToken, got %v", err)
	}

	// But forged tokens still fail the signature gate.
	if err := f.svc.SignOut(ctx, now, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage signout: want ErrInvalidToken, got %v", err)
	}
}

func TestSignOutAllIsTotalAndScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := f.principals.Create(ctx, identity.CreateInput{
		Email:    "alan@example.com",
		Username: "alan",
		Password: "universal-machine-7",
	}); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	// Three sessions for ada, one for alan.
	s1, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn 1: %v", err)
	}
	s2, _, err := f.svc.SignIn(ctx, now.Add(time.Second), "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn 2: %v", err)
	}
	s3, _, err := f.svc.SignIn(ctx, now.Add(2*time.Second), "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn 3: %v", err)
	}
	alanSess, _, err := f.svc.SignIn(ctx, now, "alan", "universal-machine-7")
	if err != nil {
		t.Fatalf("SignIn alan: %v", err)
	}

	n, err := f.svc.SignOutAll(ctx, now.Add(time.Minute), s3.RefreshToken)
	if err != nil {
		t.Fatalf("SignOutAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d sessions, want 3", n)
	}

	for i, tok := range []string{s1.RefreshToken, s2.RefreshToken, s3.RefreshToken} {
		if _, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ada session %d usable after SignOutAll: %v", i+1, err)
		}
		if err := f.svc.SignOut(ctx, now.Add(time.Minute), tok); err != nil {
			t.Fatalf("ada session %d: SignOut after SignOutAll must still ack: %v", i+1, err)
		}
	}

	// Alan's session is untouched.
	if _, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), alanSess.RefreshToken); err != nil {
		t.Fatalf("alan session affected by ada SignOutAll: %v", err)
	}

	// A revoked token no longer proves identity for SignOutAll.
	if _, err := f.svc.SignOutAll(ctx, now.Add(time.Minute), s1.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked proof: want ErrInvalidToken, got %v", err)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _, err := f.svc.SignIn(ctx, now, "ada@example.com", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	access, _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access == issued.AccessToken {
		t.Fatalf("expected a new access token")
	}

	if err := f.svc.SignOut(ctx, now.Add(2*time.Minute), issued.RefreshToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, now.Add(3*time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("post-signout refresh: want ErrInvalidToken, got %v", err)
	}
}

func TestExpiredRefreshTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _, err := f.svc.SignIn(ctx, now, "ada", "difference-engine-9")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	after := issued.RefreshExp.Add(time.Second)
	if _, _, err := f.svc.Refresh(ctx, after, issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh: want ErrInvalidToken, got %v", err)
	}
	if err := f.svc.SignOut(ctx, after, issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired signout: want ErrInvalidToken, got %v", err)
	}
}
