package auth

import (
	"testing"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("u-1", "Ana", []string{"supervisor", "contabilidad"}, "secret")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseAccessToken(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Errorf("expected subject u-1, got %s", claims.Subject)
	}
	if claims.Name != "Ana" {
		t.Errorf("expected name Ana, got %s", claims.Name)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "supervisor" {
		t.Errorf("unexpected roles %v", claims.Roles)
	}
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("u-1", "", nil, "secret")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseAccessToken(token, "other-secret"); err == nil {
		t.Error("expected signature verification to fail")
	}
	if _, err := ParseAccessToken("not-a-token", "secret"); err == nil {
		t.Error("expected malformed token to fail")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3creta")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3creta" {
		t.Fatal("password stored in plaintext")
	}
	if !CheckPassword("s3creta", hash) {
		t.Error("expected matching password to verify")
	}
	if CheckPassword("otra", hash) {
		t.Error("expected wrong password to fail")
	}
}

func TestGenerateRefreshToken_Unique(t *testing.T) {
	if GenerateRefreshToken() == GenerateRefreshToken() {
		t.Error("expected unique refresh tokens")
	}
}
