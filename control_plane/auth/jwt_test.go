package auth

import (
	"strings"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("tenant-1", "user-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.TenantID != "tenant-1" {
		t.Errorf("Expected tenant-1, got %s", claims.TenantID)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Expected subject user-1, got %s", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("Expected role admin, got %s", claims.Role)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	token, err := GenerateToken("tenant-1", "user-1", "member")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	// Flip a character in the payload segment
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := ValidateToken(tampered); err == nil {
		t.Error("Expected tampered token to be rejected")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "abc", "a.b.c"} {
		if _, err := ValidateToken(bad); err == nil {
			t.Errorf("Expected rejection of %q", bad)
		}
	}
}
