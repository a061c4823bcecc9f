package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// PaymentFlow starts and confirms checkout for an appointment.
type PaymentFlow interface {
	InitPayment(ctx context.Context, appointmentID uuid.UUID) (*payments.CheckoutSession, error)
	ConfirmPayment(ctx context.Context, sessionID string, patientID, appointmentID uuid.UUID) (*appointments.Detail, error)
}

type PaymentsHandler struct {
	flow   PaymentFlow
	logger *logging.Logger
}

func NewPaymentsHandler(flow PaymentFlow, logger *logging.Logger) *PaymentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentsHandler{flow: flow, logger: logger}
}

// Init returns a hosted checkout URL.
// POST /api/v1/payments/init/{appointmentID}
func (h *PaymentsHandler) Init(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "appointmentID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := h.flow.InitPayment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "Payment init successfully", session)
}

// Success is the checkout return URL. It is safe to call more than once.
// POST /api/v1/payments/payment-success?session_id=&patient_id=&appointment_id=
func (h *PaymentsHandler) Success(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		jsonError(w, "missing session_id", http.StatusBadRequest)
		return
	}
	patientID, err := queryUUID(r, "patient_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	appointmentID, err := queryUUID(r, "appointment_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	detail, err := h.flow.ConfirmPayment(r.Context(), sessionID, patientID, appointmentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "Payment success", detail)
}
