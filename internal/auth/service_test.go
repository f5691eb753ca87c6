package auth

import (
	"context"
	"testing"
	"time"

	"github.com/bher20/telebill/internal/storage"
)

func newTestAuth(t *testing.T) *Service {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t)

	u, err := svc.Register(ctx, "alice", "s3cret", "operator")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.PasswordHash == "s3cret" {
		t.Fatal("password stored in plaintext")
	}

	if _, err := svc.Register(ctx, "alice", "other", "viewer"); err == nil {
		t.Fatal("expected duplicate username to fail")
	}

	if _, err := svc.Authenticate(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected bad password to fail")
	}
	if _, err := svc.Authenticate(ctx, "nobody", "s3cret"); err == nil {
		t.Fatal("expected unknown user to fail")
	}
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t)

	u, err := svc.Register(ctx, "bob", "pw", "viewer")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, raw, err := svc.CreateToken(ctx, u.ID, "ci", "viewer", nil)
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}

	tok, err := svc.ValidateToken(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if tok.Role != "viewer" {
		t.Fatalf("unexpected role %q", tok.Role)
	}

	if _, err := svc.ValidateToken(ctx, "garbage"); err == nil {
		t.Fatal("expected invalid token to fail")
	}

	expired := time.Now().Add(-time.Hour)
	_, raw, err = svc.CreateToken(ctx, u.ID, "old", "viewer", &expired)
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, raw); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestRolePermissions(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t)

	admin, _ := svc.Register(ctx, "root", "pw", "admin")
	operator, _ := svc.Register(ctx, "ops", "pw", "operator")
	viewer, _ := svc.Register(ctx, "ro", "pw", "viewer")

	cases := []struct {
		sub, obj, act string
		want          bool
	}{
		{admin.ID, "settings", "write", true},
		{operator.ID, "calls", "write", true},
		{operator.ID, "bills", "read", true},
		{operator.ID, "settings", "write", false},
		{viewer.ID, "bills", "read", true},
		{viewer.ID, "calls", "write", false},
	}
	for _, tc := range cases {
		got, err := svc.Enforce(tc.sub, tc.obj, tc.act)
		if err != nil {
			t.Fatalf("Enforce(%s,%s,%s) failed: %v", tc.sub, tc.obj, tc.act, err)
		}
		if got != tc.want {
			t.Errorf("Enforce(%s,%s,%s) = %v, want %v", tc.sub, tc.obj, tc.act, got, tc.want)
		}
	}
}

func TestParseExpirationDuration(t *testing.T) {
	if exp, err := ParseExpirationDuration("never"); err != nil || exp != nil {
		t.Fatalf("never: got %v, %v", exp, err)
	}
	if exp, err := ParseExpirationDuration(""); err != nil || exp != nil {
		t.Fatalf("empty: got %v, %v", exp, err)
	}
	if exp, err := ParseExpirationDuration("30m"); err != nil || exp == nil {
		t.Fatalf("30m: got %v, %v", exp, err)
	}
	if exp, err := ParseExpirationDuration("7d"); err != nil || exp == nil {
		t.Fatalf("7d: got %v, %v", exp, err)
	} else if until := time.Until(*exp); until < 6*24*time.Hour || until > 8*24*time.Hour {
		t.Fatalf("7d: expiration %v not about a week out", until)
	}
	if _, err := ParseExpirationDuration("soon"); err == nil {
		t.Fatal("expected 'soon' to be rejected")
	}
}
