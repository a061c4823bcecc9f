// Package apperr defines the error kinds shared by the appointment lifecycle
// and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDoctorNotFound      = errors.New("doctor doesn't exist")
	ErrPatientNotFound     = errors.New("patient doesn't exist")
	ErrSlotUnavailable     = errors.New("doctor schedule is not available")
	ErrDuplicatePayment    = errors.New("payment already exists for appointment")
	ErrPaymentNotConfirmed = errors.New("payment not successful")
	ErrPaymentAlreadyMade  = errors.New("appointment is already paid")
	ErrForbidden           = errors.New("this is not your appointment")
	ErrNotPayable          = errors.New("appointment is not paid")
	ErrDataIntegrity       = errors.New("data integrity violation")
)

// NotFoundError reports a missing entity by resource name.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// NotFound builds a NotFoundError for resource.
func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// IsNotFound reports whether err wraps a NotFoundError and returns its resource.
func IsNotFound(err error) (string, bool) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Resource, true
	}
	return "", false
}

// MissingAccount reports a profile that has no linked account.
func MissingAccount(kind, email string) error {
	return fmt.Errorf("%w: %s %s has no linked account", ErrDataIntegrity, kind, email)
}

// HTTPStatus maps an error to the status code returned at the API boundary.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrDuplicatePayment),
		errors.Is(err, ErrPaymentAlreadyMade),
		errors.Is(err, ErrNotPayable),
		errors.Is(err, ErrForbidden):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrDataIntegrity):
		return http.StatusInternalServerError
	}
	if _, ok := IsNotFound(err); ok {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the text safe to show a caller. Integrity and
// unknown failures collapse to a generic message.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	for _, known := range []error{
		ErrDoctorNotFound, ErrPatientNotFound, ErrSlotUnavailable, ErrDuplicatePayment,
		ErrPaymentNotConfirmed, ErrPaymentAlreadyMade, ErrForbidden, ErrNotPayable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
