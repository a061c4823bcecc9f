package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Booker creates appointments for the calling patient.
type Booker interface {
	CreateAppointment(ctx context.Context, doctorID, scheduleID uuid.UUID, caller directory.Identity) (*appointments.Detail, error)
}

// StatusUpdater changes the visit status of an appointment.
type StatusUpdater interface {
	SetStatus(ctx context.Context, id uuid.UUID, status appointments.Status, caller directory.Identity) (*appointments.Appointment, error)
}

type AppointmentsHandler struct {
	booker   Booker
	statuses StatusUpdater
	logger   *logging.Logger
}

func NewAppointmentsHandler(booker Booker, statuses StatusUpdater, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{booker: booker, statuses: statuses, logger: logger}
}

type createAppointmentRequest struct {
	DoctorID   string `json:"doctorId"`
	ScheduleID string `json:"scheduleId"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// Create books a slot for the authenticated patient.
// POST /api/v1/appointments
func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		jsonError(w, "invalid doctorId", http.StatusBadRequest)
		return
	}
	scheduleID, err := uuid.Parse(req.ScheduleID)
	if err != nil {
		jsonError(w, "invalid scheduleId", http.StatusBadRequest)
		return
	}

	detail, err := h.booker.CreateAppointment(r.Context(), doctorID, scheduleID, caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, "Appointment booked successfully", detail)
}

// UpdateStatus changes the visit status of a paid appointment.
// PATCH /api/v1/appointments/{appointmentID}/status
func (h *AppointmentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "appointmentID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, ok := appointments.ParseStatus(req.Status)
	if !ok {
		jsonError(w, "invalid status", http.StatusBadRequest)
		return
	}

	appt, err := h.statuses.SetStatus(r.Context(), id, status, caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "Appointment status changed successfully", appt)
}
