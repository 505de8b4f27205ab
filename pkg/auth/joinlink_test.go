package auth

import (
	"errors"
	"testing"
	"time"

	"telecare/internal/domain"
)

func TestJoinLinkIssueAndParse(t *testing.T) {
	mgr := NewJoinLinkManager("test-signing-key", time.Hour)

	token, expiresAt, err := mgr.Issue(42, "expert@example.com", "Dr. Lee", domain.RoleExpert, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) < 55*time.Minute {
		t.Fatalf("expected default TTL near one hour, got expiry %v", expiresAt)
	}

	claims, err := mgr.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ConsultationID != 42 {
		t.Errorf("ConsultationID = %d, want 42", claims.ConsultationID)
	}
	if claims.Email != "expert@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.Role != domain.RoleExpert {
		t.Errorf("Role = %q", claims.Role)
	}
}

func TestJoinLinkParseExpired(t *testing.T) {
	mgr := NewJoinLinkManager("test-signing-key", time.Hour)

	token, _, err := mgr.Issue(1, "p@example.com", "Pat", domain.RolePatient, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = mgr.Parse(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestJoinLinkParseWrongKey(t *testing.T) {
	issuer := NewJoinLinkManager("key-one", time.Hour)
	verifier := NewJoinLinkManager("key-two", time.Hour)

	token, _, err := issuer.Issue(1, "p@example.com", "Pat", domain.RolePatient, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
