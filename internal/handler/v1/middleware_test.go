package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/config"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWTManager() *auth.JWTManager {
	return auth.NewJWTManager(config.JWTConfig{
		Secret:          "test-secret-key-at-least-32-chars!!",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		Issuer:          "carebridge-test",
	})
}

func authedRouter(m *auth.JWTManager, capture *access.Actor) *gin.Engine {
	r := gin.New()
	r.GET("/probe", AuthMiddleware(m), func(c *gin.Context) {
		*capture = mustActor(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	m := newTestJWTManager()
	providerID := uuid.New()
	patientID := uuid.New()

	providerPair, err := m.GenerateTokenPair(&domain.Claims{
		UserID:     uuid.New(),
		Email:      "dr.chen@example.com",
		Role:       domain.RoleProvider,
		ProviderID: &providerID,
	})
	if err != nil {
		t.Fatalf("generate provider token: %v", err)
	}

	patientPair, err := m.GenerateTokenPair(&domain.Claims{
		UserID:    uuid.New(),
		Email:     "jane@example.com",
		Role:      domain.RolePatient,
		PatientID: &patientID,
	})
	if err != nil {
		t.Fatalf("generate patient token: %v", err)
	}

	orphanPair, err := m.GenerateTokenPair(&domain.Claims{
		UserID: uuid.New(),
		Email:  "no-link@example.com",
		Role:   domain.RoleProvider,
	})
	if err != nil {
		t.Fatalf("generate orphan token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  *access.Actor
	}{
		{
			name:       "provider token resolves to provider identity",
			header:     "Bearer " + providerPair.AccessToken,
			wantStatus: http.StatusOK,
			wantActor:  &access.Actor{ID: providerID, Role: domain.RoleProvider},
		},
		{
			name:       "patient token resolves to patient identity",
			header:     "Bearer " + patientPair.AccessToken,
			wantStatus: http.StatusOK,
			wantActor:  &access.Actor{ID: patientID, Role: domain.RolePatient},
		},
		{
			name:       "missing header",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc123",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			header:     "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "refresh token rejected on api routes",
			header:     "Bearer " + providerPair.RefreshToken,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "provider token without provider link",
			header:     "Bearer " + orphanPair.AccessToken,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got access.Actor
			r := authedRouter(m, &got)

			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantActor != nil && got != *tt.wantActor {
				t.Errorf("actor = %+v, want %+v", got, *tt.wantActor)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	m := newTestJWTManager()
	patientID := uuid.New()

	pair, err := m.GenerateTokenPair(&domain.Claims{
		UserID:    uuid.New(),
		Email:     "jane@example.com",
		Role:      domain.RolePatient,
		PatientID: &patientID,
	})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	r := gin.New()
	grp := r.Group("", AuthMiddleware(m))
	grp.GET("/patient-only", RequireRole(domain.RolePatient), func(c *gin.Context) { c.Status(http.StatusOK) })
	grp.GET("/provider-only", RequireRole(domain.RoleProvider), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, tt := range []struct {
		path       string
		wantStatus int
	}{
		{"/patient-only", http.StatusOK},
		{"/provider-only", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}
}
