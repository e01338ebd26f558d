package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestHashAndCheckPassword(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
	h, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(h, "correct horse battery") {
		t.Error("matching password rejected")
	}
	if CheckPassword(h, "wrong password") {
		t.Error("wrong password accepted")
	}
	if CheckPassword("", "anything") {
		t.Error("empty hash accepted")
	}
}

func TestIssueVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss, err := NewIssuer(testSecret, time.Hour, clock)
	if err != nil {
		t.Fatal(err)
	}
	tok, exp, err := iss.Issue("p-123")
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("exp = %s", exp)
	}
	sub, err := iss.Verify(tok)
	if err != nil || sub != "p-123" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}

	// Expired.
	now = now.Add(2 * time.Hour)
	if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	a, _ := NewIssuer(testSecret, time.Hour, nil)
	b, _ := NewIssuer(strings.Repeat("x", 32), time.Hour, nil)
	tok, _, _ := a.Issue("p")
	if _, err := b.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token err = %v", err)
	}
	if _, err := a.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token err = %v", err)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer("short", time.Hour, nil); err == nil {
		t.Error("expected short secret error")
	}
	if _, err := NewIssuer(testSecret, 0, nil); err == nil {
		t.Error("expected ttl error")
	}
}
