package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/config"
	"github.com/carebridgehq/carebridge/internal/domain"
)

func testManager(accessTTL time.Duration) *JWTManager {
	return NewJWTManager(config.JWTConfig{
		Secret:          "test-secret-key-at-least-32-chars!!",
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "carebridge-test",
	})
}

func TestTokenRoundTrip(t *testing.T) {
	m := testManager(time.Minute)

	providerID := uuid.New()
	in := &domain.Claims{
		UserID:     uuid.New(),
		Email:      "dr.chen@example.com",
		Role:       domain.RoleProvider,
		ProviderID: &providerID,
	}

	pair, err := m.GenerateTokenPair(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", pair.TokenType)
	}

	out, err := m.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.UserID != in.UserID || out.Email != in.Email || out.Role != in.Role {
		t.Errorf("claims round trip mismatch: got %+v, want %+v", out, in)
	}
	if out.ProviderID == nil || *out.ProviderID != providerID {
		t.Errorf("provider id not carried through token")
	}
	if out.PatientID != nil {
		t.Errorf("unexpected patient id in provider token")
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	m := testManager(time.Minute)

	pair, err := m.GenerateTokenPair(&domain.Claims{
		UserID: uuid.New(),
		Email:  "admin@example.com",
		Role:   domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.ValidateAccessToken(pair.RefreshToken); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Errorf("access validation of refresh token: err = %v, want %v", err, ErrTokenTypeMismatch)
	}
	if _, err := m.ValidateRefreshToken(pair.AccessToken); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Errorf("refresh validation of access token: err = %v, want %v", err, ErrTokenTypeMismatch)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := testManager(-time.Minute)

	pair, err := m.GenerateTokenPair(&domain.Claims{
		UserID: uuid.New(),
		Email:  "admin@example.com",
		Role:   domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want %v", err, ErrTokenExpired)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	m := testManager(time.Minute)
	other := NewJWTManager(config.JWTConfig{
		Secret:          "another-secret-key-also-32-chars!!!",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "carebridge-test",
	})

	pair, err := other.GenerateTokenPair(&domain.Claims{
		UserID: uuid.New(),
		Email:  "admin@example.com",
		Role:   domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want %v", err, ErrTokenInvalid)
	}
}
