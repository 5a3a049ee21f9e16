package authpw

import (
	"context"
	"errors"
	"testing"

	"docgate/api/internal/store"
)

func newTestService() (*Service, *store.Store) {
	docs := store.New(store.NewMemoryEngine())
	return NewService(docs), docs
}

func TestSignInAfterSetPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetPassword(ctx, "Dev@Example.com ", "correct-horse"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	email, err := svc.SignIn(ctx, SignInRequest{Email: "dev@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if email != "dev@example.com" {
		t.Fatalf("expected normalized email, got %q", email)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_ = svc.SetPassword(ctx, "dev@example.com", "correct-horse")

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "dev@example.com", Password: "battery-staple"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "correct-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestSetPasswordReplacesHash(t *testing.T) {
	svc, docs := newTestService()
	ctx := context.Background()
	_ = svc.SetPassword(ctx, "dev@example.com", "first-password")
	if err := svc.SetPassword(ctx, "dev@example.com", "second-password"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "dev@example.com", Password: "first-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "dev@example.com", Password: "second-password"}); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	_, total, _ := docs.Find(ctx, CredentialsDatabase, CredentialsCollection, store.FindOptions{Limit: -1})
	if total != 1 {
		t.Fatalf("expected one credentials record, got %d", total)
	}
}

func TestWeakPasswordRejected(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.SetPassword(context.Background(), "dev@example.com", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRemovePassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_ = svc.SetPassword(ctx, "dev@example.com", "correct-horse")

	if err := svc.RemovePassword(ctx, "dev@example.com"); err != nil {
		t.Fatalf("RemovePassword: %v", err)
	}
	if err := svc.RemovePassword(ctx, "dev@example.com"); err != nil {
		t.Fatalf("second RemovePassword should be a no-op: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "dev@example.com", Password: "correct-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after removal, got %v", err)
	}
}
