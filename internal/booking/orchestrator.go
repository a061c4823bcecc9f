// Package booking creates appointments: it claims the slot, records the
// payment intent and notifies both parties in one transaction.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/store"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Directory resolves the profiles and accounts involved in a booking.
type Directory interface {
	DoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	PatientByEmail(ctx context.Context, email string) (*directory.Patient, error)
	AccountByEmail(ctx context.Context, q store.Querier, email string) (*directory.Account, error)
}

// SlotLedger claims schedule slots.
type SlotLedger interface {
	TryAllocate(ctx context.Context, doctorID, scheduleID uuid.UUID) (slots.Allocation, error)
	Commit(ctx context.Context, q store.Querier, a slots.Allocation, appointmentID uuid.UUID) error
}

// AppointmentStore writes the appointment and its payment row.
type AppointmentStore interface {
	Create(ctx context.Context, q store.Querier, patientID, doctorID, scheduleID uuid.UUID, videoCallingID string) (*appointments.Appointment, error)
	CreatePayment(ctx context.Context, q store.Querier, appointmentID uuid.UUID, amount float64, transactionID string) (*appointments.Payment, error)
}

// NotificationStore persists notifications inside the caller's transaction.
type NotificationStore interface {
	InsertBatch(ctx context.Context, q store.Querier, items []notify.Notification) error
}

// Recorder observes booking outcomes.
type Recorder interface {
	ObserveBooking(result string)
}

// Orchestrator runs the create-appointment flow.
type Orchestrator struct {
	pool          store.Pool
	directory     Directory
	ledger        SlotLedger
	appointments  AppointmentStore
	notifications NotificationStore
	composer      *notify.Composer
	pusher        *notify.Pusher
	logger        *logging.Logger
	tracer        trace.Tracer

	gracePeriod time.Duration
	recorder    Recorder
	newToken    func() string
}

// Deps groups the collaborators an Orchestrator needs.
type Deps struct {
	Pool          store.Pool
	Directory     Directory
	Ledger        SlotLedger
	Appointments  AppointmentStore
	Notifications NotificationStore
	Composer      *notify.Composer
	Pusher        *notify.Pusher
	Logger        *logging.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Pool == nil || deps.Directory == nil || deps.Ledger == nil || deps.Appointments == nil || deps.Notifications == nil {
		panic("booking: pool, directory, ledger and stores are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Composer == nil {
		deps.Composer = notify.NewComposer(time.UTC)
	}
	return &Orchestrator{
		pool:          deps.Pool,
		directory:     deps.Directory,
		ledger:        deps.Ledger,
		appointments:  deps.Appointments,
		notifications: deps.Notifications,
		composer:      deps.Composer,
		pusher:        deps.Pusher,
		logger:        deps.Logger,
		tracer:        otel.Tracer("clinic.internal.booking"),
		gracePeriod:   30 * time.Minute,
		newToken:      uuid.NewString,
	}
}

// WithGracePeriod sets the payment window quoted to the patient.
func (o *Orchestrator) WithGracePeriod(d time.Duration) *Orchestrator {
	if d > 0 {
		o.gracePeriod = d
	}
	return o
}

// WithRecorder attaches a metrics recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// TransactionID derives the payment transaction id from the appointment id.
func TransactionID(appointmentID uuid.UUID) string {
	hex := strings.ReplaceAll(appointmentID.String(), "-", "")
	return "CLB-" + strings.ToUpper(hex[:12])
}

// CreateAppointment books scheduleID with doctorID for the calling patient.
// Nothing is written unless every step succeeds; notifications are pushed
// only after commit.
func (o *Orchestrator) CreateAppointment(ctx context.Context, doctorID, scheduleID uuid.UUID, caller directory.Identity) (*appointments.Detail, error) {
	ctx, span := o.tracer.Start(ctx, "booking.create_appointment")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", doctorID.String()),
		attribute.String("clinic.schedule_id", scheduleID.String()),
	)

	detail, msgs, err := o.create(ctx, doctorID, scheduleID, caller)
	if err != nil {
		span.RecordError(err)
		o.observe(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.appointment_id", detail.ID.String()))
	o.observe(nil)

	if failed := o.pusher.Push(ctx, msgs); failed > 0 {
		o.logger.Warn("booking: some notifications were not pushed", "appointment_id", detail.ID, "failed", failed)
	}
	o.logger.Info("appointment booked",
		"appointment_id", detail.ID,
		"doctor_id", doctorID,
		"schedule_id", scheduleID,
		"patient_id", detail.PatientID,
	)
	return detail, nil
}

func (o *Orchestrator) create(ctx context.Context, doctorID, scheduleID uuid.UUID, caller directory.Identity) (*appointments.Detail, []notify.Message, error) {
	doctor, err := o.directory.DoctorByID(ctx, doctorID)
	if err != nil {
		return nil, nil, mapNotFound(err, apperr.ErrDoctorNotFound)
	}
	patient, err := o.directory.PatientByEmail(ctx, caller.Email)
	if err != nil {
		return nil, nil, mapNotFound(err, apperr.ErrPatientNotFound)
	}
	alloc, err := o.ledger.TryAllocate(ctx, doctorID, scheduleID)
	if err != nil {
		return nil, nil, err
	}
	videoToken := o.newToken()

	var (
		appt *appointments.Appointment
		msgs []notify.Message
	)
	err = store.WithTx(ctx, o.pool, func(tx pgx.Tx) error {
		var err error
		appt, err = o.appointments.Create(ctx, tx, patient.ID, doctor.ID, alloc.ScheduleID, videoToken)
		if err != nil {
			return err
		}
		if err := o.ledger.Commit(ctx, tx, alloc, appt.ID); err != nil {
			return err
		}
		if _, err := o.appointments.CreatePayment(ctx, tx, appt.ID, doctor.AppointmentFee, TransactionID(appt.ID)); err != nil {
			return err
		}

		doctorAccount, err := o.account(ctx, tx, "doctor", doctor.Email)
		if err != nil {
			return err
		}
		patientAccount, err := o.account(ctx, tx, "patient", patient.Email)
		if err != nil {
			return err
		}

		slot := notify.Slot{Start: alloc.StartDate, End: alloc.EndDate}
		toPatient := notify.RecipientFor(patientAccount, directory.RolePatient)
		msgs = []notify.Message{
			o.composer.AppointmentConfirmed(toPatient, doctor.Name, slot),
			o.composer.PaymentPending(toPatient, doctor.Name, slot, o.gracePeriod),
			o.composer.NewAppointment(notify.RecipientFor(doctorAccount, directory.RoleDoctor), patient.Name, slot),
		}
		return o.notifications.InsertBatch(ctx, tx, notify.Notifications(msgs))
	})
	if err != nil {
		return nil, nil, err
	}

	return &appointments.Detail{
		Appointment: *appt,
		Doctor:      *doctor,
		Patient:     *patient,
		Schedule: appointments.Schedule{
			ID:        alloc.ScheduleID,
			StartDate: alloc.StartDate,
			EndDate:   alloc.EndDate,
		},
	}, msgs, nil
}

func (o *Orchestrator) account(ctx context.Context, q store.Querier, kind, email string) (*directory.Account, error) {
	acct, err := o.directory.AccountByEmail(ctx, q, email)
	if err != nil {
		if _, ok := apperr.IsNotFound(err); ok {
			o.logger.Error("booking: profile without account", "kind", kind, "email", email)
			return nil, apperr.MissingAccount(kind, email)
		}
		return nil, err
	}
	return acct, nil
}

func (o *Orchestrator) observe(err error) {
	if o.recorder == nil {
		return
	}
	switch {
	case err == nil:
		o.recorder.ObserveBooking("created")
	case apperr.HTTPStatus(err) < 500:
		o.recorder.ObserveBooking("rejected")
	default:
		o.recorder.ObserveBooking("failed")
	}
}

func mapNotFound(err, kind error) error {
	if _, ok := apperr.IsNotFound(err); ok {
		return kind
	}
	return fmt.Errorf("booking: resolve profile: %w", err)
}

