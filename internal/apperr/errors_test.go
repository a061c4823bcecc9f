package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"doctor missing", ErrDoctorNotFound, http.StatusBadRequest},
		{"patient missing", ErrPatientNotFound, http.StatusBadRequest},
		{"slot taken wrapped", fmt.Errorf("slots: commit: %w", ErrSlotUnavailable), http.StatusBadRequest},
		{"duplicate payment", ErrDuplicatePayment, http.StatusBadRequest},
		{"already paid", ErrPaymentAlreadyMade, http.StatusBadRequest},
		{"not payable", ErrNotPayable, http.StatusBadRequest},
		{"forbidden", ErrForbidden, http.StatusBadRequest},
		{"payment not confirmed", ErrPaymentNotConfirmed, http.StatusPaymentRequired},
		{"not found", NotFound("appointment"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("patient")), http.StatusNotFound},
		{"integrity", MissingAccount("doctor", "d@example.com"), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	resource, ok := IsNotFound(fmt.Errorf("outer: %w", NotFound("super admin")))
	assert.True(t, ok)
	assert.Equal(t, "super admin", resource)

	_, ok = IsNotFound(ErrForbidden)
	assert.False(t, ok)
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(MissingAccount("patient", "p@example.com")))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("pq: connection refused")))
	assert.Equal(t, "appointment not found", PublicMessage(fmt.Errorf("x: %w", NotFound("appointment"))))
	assert.Equal(t, ErrSlotUnavailable.Error(), PublicMessage(fmt.Errorf("slots: commit: %w", ErrSlotUnavailable)))
}

func TestMissingAccountWrapsIntegrity(t *testing.T) {
	err := MissingAccount("doctor", "d@example.com")
	assert.ErrorIs(t, err, ErrDataIntegrity)
	assert.Contains(t, err.Error(), "d@example.com")
}
