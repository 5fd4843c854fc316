package auth

import (
	"testing"
	"time"
)

func TestTokenPairRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute, time.Hour)

	pair, err := m.GenerateTokenPair(UserClaims{UserID: "u-1", Email: "a@b.com"})
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 60 {
		t.Errorf("pair = %+v", pair)
	}

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "u-1" || claims.Email != "a@b.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, time.Hour)

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u-1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := m.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	m := NewJWTManager("secret-a", time.Minute, time.Hour)
	other := NewJWTManager("secret-b", time.Minute, time.Hour)

	token, _ := m.GenerateAccessToken(UserClaims{UserID: "u-1"})
	if _, err := other.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m := NewJWTManager("s", time.Minute, time.Hour)

	a, err := m.GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	b, _ := m.GenerateRefreshToken()
	if a == b {
		t.Error("refresh tokens collided")
	}
	if HashRefreshToken(a) == HashRefreshToken(b) {
		t.Error("token hashes collided")
	}
	if len(HashRefreshToken(a)) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(HashRefreshToken(a)))
	}
}

func TestPasswordStrength(t *testing.T) {
	p := NewPasswordManager(4, 8)

	if err := p.ValidatePasswordStrength("short"); err == nil {
		t.Error("short password accepted")
	}
	if err := p.ValidatePasswordStrength("alllowercase"); err == nil {
		t.Error("single-class password accepted")
	}
	if err := p.ValidatePasswordStrength("Str0ngPass!"); err != nil {
		t.Errorf("strong password rejected: %v", err)
	}
}

func TestPasswordHashVerify(t *testing.T) {
	p := NewPasswordManager(4, 8)

	hash, err := p.HashPassword("Str0ngPass!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !p.VerifyPassword("Str0ngPass!", hash) {
		t.Error("correct password rejected")
	}
	if p.VerifyPassword("WrongPass1!", hash) {
		t.Error("wrong password accepted")
	}
}
