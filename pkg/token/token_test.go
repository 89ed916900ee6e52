package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	svc, err := New(secret, Options{})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return svc
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	svc := newTestService(t, "test-secret")
	tok, err := svc.Issue("alice@test.com", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	subject, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if subject != "alice@test.com" {
		t.Fatalf("unexpected subject: got %q", subject)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := newTestService(t, "test-secret")
	// Expiry far enough in the past to clear the default leeway.
	tok, err := svc.Issue("alice@test.com", -5*time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got: %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := newTestService(t, "secret-a")
	verifier := newTestService(t, "secret-b")
	tok, err := issuer.Issue("alice@test.com", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got: %v", err)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := newTestService(t, "test-secret")
	tok, err := svc.Issue("alice@test.com", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", tok)
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := svc.Validate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered payload, got: %v", err)
	}
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	svc := newTestService(t, "test-secret")
	for _, tok := range []string{"", "garbage", "a.b", "a.b.c"} {
		if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got: %v", tok, err)
		}
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New("  ", Options{}); err == nil {
		t.Fatalf("expected constructor error for empty secret")
	}
}
