package appointments

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/directory"
)

// Status is the visit lifecycle, independent of payment.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "INPROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return s, true
	default:
		return "", false
	}
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

type Appointment struct {
	ID             uuid.UUID     `json:"id"`
	PatientID      uuid.UUID     `json:"patient_id"`
	DoctorID       uuid.UUID     `json:"doctor_id"`
	ScheduleID     uuid.UUID     `json:"schedule_id"`
	VideoCallingID string        `json:"video_calling_id"`
	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	AppointmentID uuid.UUID     `json:"appointment_id"`
	Amount        float64       `json:"amount"`
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Schedule is the slot interval an appointment occupies.
type Schedule struct {
	ID        uuid.UUID `json:"id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Detail is an appointment with its doctor, patient and schedule loaded.
type Detail struct {
	Appointment
	Doctor   directory.Doctor  `json:"doctor"`
	Patient  directory.Patient `json:"patient"`
	Schedule Schedule          `json:"schedule"`
}

// UnpaidDetail adds the linked accounts needed to notify both parties.
// A nil account means the profile has no linked user row.
type UnpaidDetail struct {
	Detail
	DoctorAccount  *directory.Account
	PatientAccount *directory.Account
}

// PaymentDetail is a payment with the patient who owes it.
type PaymentDetail struct {
	Payment
	PatientID    uuid.UUID
	PatientName  string
	PatientEmail string
}
