package v1

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/domain/connection"
	"github.com/carebridgehq/carebridge/internal/domain/consultation"
	"github.com/carebridgehq/carebridge/internal/domain/record"
	"github.com/carebridgehq/carebridge/internal/service"
)

func TestRespondServiceErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"connection not found", connection.ErrNotFound, http.StatusNotFound},
		{"consultation not found", consultation.ErrConsultationNotFound, http.StatusNotFound},
		{"record not found", record.ErrRecordNotFound, http.StatusNotFound},
		{"duplicate pair", connection.ErrAlreadyExists, http.StatusConflict},
		{"version conflict", connection.ErrStoreConflict, http.StatusConflict},
		{"invalid transition", connection.ErrInvalidTransition, http.StatusBadRequest},
		{"invalid status transition", consultation.ErrInvalidStatusTransition, http.StatusBadRequest},
		{"invalid record type", record.ErrInvalidRecordType, http.StatusBadRequest},
		{"invalid respond action", service.ErrInvalidRespondAction, http.StatusBadRequest},
		{"not a party", connection.ErrNotParty, http.StatusForbidden},
		{"ownership required", access.ErrMutationRequiresOwnership, http.StatusForbidden},
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"bad credentials", service.ErrInvalidCredentials, http.StatusUnauthorized},
		{"locked account", service.ErrAccountLocked, http.StatusTooManyRequests},
		{"wrapped sentinel", fmt.Errorf("loading connection: %w", connection.ErrNotFound), http.StatusNotFound},
		{"validation error", &service.ValidationError{Fields: []string{"patient_id is required"}}, http.StatusBadRequest},
		{"unknown error", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondServiceError(c, tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
