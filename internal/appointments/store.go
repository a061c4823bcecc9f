// Package appointments persists appointments and their payments.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/store"
)

// Store persists appointments and payments in Postgres. Methods that take a
// Querier run against it when non-nil so callers can compose them inside one
// transaction.
type Store struct {
	db store.Querier
}

func NewStore(db store.Querier) *Store {
	if db == nil {
		panic("appointments: querier required")
	}
	return &Store{db: db}
}

const detailColumns = `
	a.id, a.patient_id, a.doctor_id, a.schedule_id, a.video_calling_id,
	a.status, a.payment_status, a.created_at, a.updated_at,
	d.email, d.name, d.appointment_fee::float8,
	p.email, p.name,
	s.start_date, s.end_date
`

const detailJoins = `
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id
	JOIN schedules s ON s.id = a.schedule_id
`

// Create inserts a SCHEDULED, UNPAID appointment.
func (s *Store) Create(ctx context.Context, q store.Querier, patientID, doctorID, scheduleID uuid.UUID, videoCallingID string) (*Appointment, error) {
	if q == nil {
		q = s.db
	}
	appt := Appointment{
		ID:             uuid.New(),
		PatientID:      patientID,
		DoctorID:       doctorID,
		ScheduleID:     scheduleID,
		VideoCallingID: videoCallingID,
	}
	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, schedule_id, video_calling_id, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, 'SCHEDULED', 'UNPAID')
		RETURNING status, payment_status, created_at, updated_at
	`
	var status, paymentStatus string
	err := q.QueryRow(ctx, query, appt.ID, patientID, doctorID, scheduleID, videoCallingID).
		Scan(&status, &paymentStatus, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("appointments: insert appointment: %w", err)
	}
	appt.Status = Status(status)
	appt.PaymentStatus = PaymentStatus(paymentStatus)
	return &appt, nil
}

// CreatePayment inserts the single payment row for an appointment.
func (s *Store) CreatePayment(ctx context.Context, q store.Querier, appointmentID uuid.UUID, amount float64, transactionID string) (*Payment, error) {
	if q == nil {
		q = s.db
	}
	payment := Payment{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Amount:        amount,
		TransactionID: transactionID,
		Status:        PaymentUnpaid,
	}
	query := `
		INSERT INTO payments (id, appointment_id, amount, transaction_id, status)
		VALUES ($1, $2, $3, $4, 'UNPAID')
		RETURNING created_at
	`
	if err := q.QueryRow(ctx, query, payment.ID, appointmentID, amount, transactionID).Scan(&payment.CreatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.ErrDuplicatePayment
		}
		return nil, fmt.Errorf("appointments: insert payment: %w", err)
	}
	return &payment, nil
}

// Get loads an appointment with doctor, patient and schedule.
func (s *Store) Get(ctx context.Context, q store.Querier, id uuid.UUID) (*Detail, error) {
	if q == nil {
		q = s.db
	}
	query := `SELECT ` + detailColumns + detailJoins + ` WHERE a.id = $1`
	detail, err := scanDetail(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment")
		}
		return nil, fmt.Errorf("appointments: load appointment: %w", err)
	}
	return detail, nil
}

// FindUnpaidOlderThan returns UNPAID appointments created at or before cutoff,
// oldest first, with the linked accounts of both parties.
func (s *Store) FindUnpaidOlderThan(ctx context.Context, cutoff time.Time) ([]UnpaidDetail, error) {
	query := `SELECT ` + detailColumns + `,
			COALESCE(du.id::text, ''), COALESCE(du.role, ''),
			COALESCE(pu.id::text, ''), COALESCE(pu.role, '')
		` + detailJoins + `
		LEFT JOIN users du ON du.email = d.email
		LEFT JOIN users pu ON pu.email = p.email
		WHERE a.payment_status = 'UNPAID' AND a.created_at <= $1
		ORDER BY a.created_at
	`
	rows, err := s.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("appointments: find unpaid: %w", err)
	}
	defer rows.Close()

	var out []UnpaidDetail
	for rows.Next() {
		var (
			d                        UnpaidDetail
			status, paymentStatus    string
			doctorAcct, doctorRole   string
			patientAcct, patientRole string
		)
		if err := rows.Scan(
			&d.ID, &d.PatientID, &d.DoctorID, &d.ScheduleID, &d.VideoCallingID,
			&status, &paymentStatus, &d.CreatedAt, &d.UpdatedAt,
			&d.Doctor.Email, &d.Doctor.Name, &d.Doctor.AppointmentFee,
			&d.Patient.Email, &d.Patient.Name,
			&d.Schedule.StartDate, &d.Schedule.EndDate,
			&doctorAcct, &doctorRole, &patientAcct, &patientRole,
		); err != nil {
			return nil, fmt.Errorf("appointments: scan unpaid: %w", err)
		}
		d.fill(status, paymentStatus)
		d.DoctorAccount = parseAccount(doctorAcct, d.Doctor.Email, doctorRole)
		d.PatientAccount = parseAccount(patientAcct, d.Patient.Email, patientRole)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: iterate unpaid: %w", err)
	}
	return out, nil
}

// MarkPaid flips an UNPAID appointment and its payment to PAID and returns
// the updated detail. It returns ErrPaymentAlreadyMade when no UNPAID row
// matched, which is the case for an already confirmed or a swept appointment.
func (s *Store) MarkPaid(ctx context.Context, q store.Querier, id uuid.UUID) (*Detail, error) {
	if q == nil {
		q = s.db
	}
	ct, err := q.Exec(ctx, `
		UPDATE appointments
		SET payment_status = 'PAID', updated_at = now()
		WHERE id = $1 AND payment_status = 'UNPAID'
	`, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: mark appointment paid: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, apperr.ErrPaymentAlreadyMade
	}
	if _, err := q.Exec(ctx, `
		UPDATE payments
		SET status = 'PAID', updated_at = now()
		WHERE appointment_id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("appointments: mark payment paid: %w", err)
	}
	return s.Get(ctx, q, id)
}

// DeleteWithPayment removes one appointment and its payment.
func (s *Store) DeleteWithPayment(ctx context.Context, q store.Querier, id uuid.UUID) error {
	_, err := s.DeleteManyWithPayments(ctx, q, []uuid.UUID{id})
	return err
}

// LockUnpaid row-locks the given appointments that are still UNPAID and
// returns their ids. Taking the appointment lock first matches the order used
// by MarkPaid, so a sweep and a confirm never deadlock.
func (s *Store) LockUnpaid(ctx context.Context, q store.Querier, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if q == nil {
		q = s.db
	}
	rows, err := q.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE id = ANY($1) AND payment_status = 'UNPAID'
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("appointments: lock unpaid: %w", err)
	}
	defer rows.Close()

	var locked []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments: scan locked id: %w", err)
		}
		locked = append(locked, id)
	}
	return locked, rows.Err()
}

// DeleteManyWithPayments removes payments and then appointments for ids and
// returns how many appointments were deleted.
func (s *Store) DeleteManyWithPayments(ctx context.Context, q store.Querier, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if q == nil {
		q = s.db
	}
	if _, err := q.Exec(ctx, `DELETE FROM payments WHERE appointment_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("appointments: delete payments: %w", err)
	}
	ct, err := q.Exec(ctx, `DELETE FROM appointments WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("appointments: delete appointments: %w", err)
	}
	return ct.RowsAffected(), nil
}

// SetStatus changes the visit status of a paid appointment. UNPAID
// appointments fail with ErrNotPayable for every caller; a DOCTOR caller must
// own the appointment.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, caller directory.Identity) (*Appointment, error) {
	var paymentStatus, doctorEmail string
	err := s.db.QueryRow(ctx, `
		SELECT a.payment_status, d.email
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.id = $1
	`, id).Scan(&paymentStatus, &doctorEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment")
		}
		return nil, fmt.Errorf("appointments: load for status change: %w", err)
	}
	if PaymentStatus(paymentStatus) != PaymentPaid {
		return nil, apperr.ErrNotPayable
	}
	if caller.Role == directory.RoleDoctor && !strings.EqualFold(caller.Email, doctorEmail) {
		return nil, apperr.ErrForbidden
	}

	var appt Appointment
	var newStatus, newPaymentStatus string
	err = s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND payment_status = 'PAID'
		RETURNING id, patient_id, doctor_id, schedule_id, video_calling_id, status, payment_status, created_at, updated_at
	`, id, string(status)).Scan(
		&appt.ID, &appt.PatientID, &appt.DoctorID, &appt.ScheduleID, &appt.VideoCallingID,
		&newStatus, &newPaymentStatus, &appt.CreatedAt, &appt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment")
		}
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	appt.Status = Status(newStatus)
	appt.PaymentStatus = PaymentStatus(newPaymentStatus)
	return &appt, nil
}

// PaymentForAppointment loads the payment owed for an appointment together
// with the patient contact used at checkout.
func (s *Store) PaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*PaymentDetail, error) {
	var (
		pd     PaymentDetail
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT pay.id, pay.appointment_id, pay.amount::float8, pay.transaction_id, pay.status, pay.created_at,
			p.id, p.name, p.email
		FROM payments pay
		JOIN appointments a ON a.id = pay.appointment_id
		JOIN patients p ON p.id = a.patient_id
		WHERE pay.appointment_id = $1
	`, appointmentID).Scan(
		&pd.ID, &pd.AppointmentID, &pd.Amount, &pd.TransactionID, &status, &pd.CreatedAt,
		&pd.PatientID, &pd.PatientName, &pd.PatientEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment information")
		}
		return nil, fmt.Errorf("appointments: load payment: %w", err)
	}
	pd.Status = PaymentStatus(status)
	return &pd, nil
}

func scanDetail(row pgx.Row) (*Detail, error) {
	var (
		d                     Detail
		status, paymentStatus string
	)
	if err := row.Scan(
		&d.ID, &d.PatientID, &d.DoctorID, &d.ScheduleID, &d.VideoCallingID,
		&status, &paymentStatus, &d.CreatedAt, &d.UpdatedAt,
		&d.Doctor.Email, &d.Doctor.Name, &d.Doctor.AppointmentFee,
		&d.Patient.Email, &d.Patient.Name,
		&d.Schedule.StartDate, &d.Schedule.EndDate,
	); err != nil {
		return nil, err
	}
	d.fill(status, paymentStatus)
	return &d, nil
}

func (d *Detail) fill(status, paymentStatus string) {
	d.Status = Status(status)
	d.PaymentStatus = PaymentStatus(paymentStatus)
	d.Doctor.ID = d.DoctorID
	d.Patient.ID = d.PatientID
	d.Schedule.ID = d.ScheduleID
}

func parseAccount(rawID, email, role string) *directory.Account {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil
	}
	return &directory.Account{ID: id, Email: email, Role: directory.Role(role)}
}
