// Package payments starts hosted checkout for appointments and reconciles
// completed checkout sessions with appointment state.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
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
	"github.com/wolfman30/clinic-booking/internal/store"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// AppointmentStore is the part of the appointment store payments use.
type AppointmentStore interface {
	Get(ctx context.Context, q store.Querier, id uuid.UUID) (*appointments.Detail, error)
	MarkPaid(ctx context.Context, q store.Querier, id uuid.UUID) (*appointments.Detail, error)
	PaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointments.PaymentDetail, error)
}

// Directory resolves the patient and the accounts to notify.
type Directory interface {
	PatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	AccountByEmail(ctx context.Context, q store.Querier, email string) (*directory.Account, error)
	SuperAdmin(ctx context.Context) (*directory.Account, error)
}

// NotificationStore persists notifications inside the caller's transaction.
type NotificationStore interface {
	InsertBatch(ctx context.Context, q store.Querier, items []notify.Notification) error
}

// Recorder observes confirmation outcomes.
type Recorder interface {
	ObserveConfirmation(result string)
}

// CheckoutSession is returned to the patient to continue payment.
type CheckoutSession struct {
	PaymentURL string `json:"paymentUrl"`
}

// URLs are the browser redirect targets after checkout.
type URLs struct {
	Success string
	Cancel  string
}

// Deps groups the collaborators a Service needs.
type Deps struct {
	Pool          store.Pool
	Appointments  AppointmentStore
	Directory     Directory
	Notifications NotificationStore
	Gateway       Gateway
	Composer      *notify.Composer
	Pusher        *notify.Pusher
	URLs          URLs
	Logger        *logging.Logger
}

// Service initiates and confirms appointment payments.
type Service struct {
	pool          store.Pool
	appointments  AppointmentStore
	directory     Directory
	notifications NotificationStore
	gateway       Gateway
	composer      *notify.Composer
	pusher        *notify.Pusher
	urls          URLs
	logger        *logging.Logger
	tracer        trace.Tracer
	recorder      Recorder
}

func NewService(deps Deps) *Service {
	if deps.Pool == nil || deps.Appointments == nil || deps.Directory == nil || deps.Notifications == nil || deps.Gateway == nil {
		panic("payments: pool, stores, directory and gateway are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Composer == nil {
		deps.Composer = notify.NewComposer(time.UTC)
	}
	return &Service{
		pool:          deps.Pool,
		appointments:  deps.Appointments,
		directory:     deps.Directory,
		notifications: deps.Notifications,
		gateway:       deps.Gateway,
		composer:      deps.Composer,
		pusher:        deps.Pusher,
		urls:          deps.URLs,
		logger:        deps.Logger,
		tracer:        otel.Tracer("clinic.internal.payments"),
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// AmountCents converts a major-unit fee to integer minor units.
func AmountCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// InitPayment opens a checkout session for the appointment's unpaid payment.
func (s *Service) InitPayment(ctx context.Context, appointmentID uuid.UUID) (*CheckoutSession, error) {
	pd, err := s.appointments.PaymentForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if pd.Status == appointments.PaymentPaid {
		return nil, apperr.ErrPaymentAlreadyMade
	}

	sess, err := s.gateway.CreateSession(ctx, SessionParams{
		AmountCents:   AmountCents(pd.Amount),
		ProductName:   "Appointment Payment",
		CustomerEmail: pd.PatientEmail,
		Metadata: map[string]string{
			"appointmentId": appointmentID.String(),
			"customerName":  pd.PatientName,
			"customerEmail": pd.PatientEmail,
		},
		SuccessURL: successURL(s.urls.Success, pd.PatientID, appointmentID),
		CancelURL:  s.urls.Cancel,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout session created", "appointment_id", appointmentID, "session_id", sess.ID)
	return &CheckoutSession{PaymentURL: sess.URL}, nil
}

// successURL appends the callback parameters. The session placeholder is
// left unescaped so the gateway can substitute it.
func successURL(base string, patientID, appointmentID uuid.UUID) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "session_id={CHECKOUT_SESSION_ID}" +
		"&patient_id=" + url.QueryEscape(patientID.String()) +
		"&appointment_id=" + url.QueryEscape(appointmentID.String())
}

var errLostConfirmRace = errors.New("payments: appointment no longer unpaid")

// ConfirmPayment verifies the checkout session and marks the appointment
// paid. Calling it again for a paid appointment returns the current state
// without contacting the gateway or creating notifications.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string, patientID, appointmentID uuid.UUID) (*appointments.Detail, error) {
	ctx, span := s.tracer.Start(ctx, "payments.confirm_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", appointmentID.String()),
		attribute.String("clinic.session_id", sessionID),
	)

	detail, result, err := s.confirm(ctx, sessionID, patientID, appointmentID)
	s.observe(result)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return detail, nil
}

func (s *Service) confirm(ctx context.Context, sessionID string, patientID, appointmentID uuid.UUID) (*appointments.Detail, string, error) {
	current, err := s.appointments.Get(ctx, nil, appointmentID)
	if err != nil {
		return nil, "failed", err
	}
	patient, err := s.directory.PatientByID(ctx, patientID)
	if err != nil {
		return nil, "failed", err
	}
	patientAccount, err := s.directory.AccountByEmail(ctx, nil, patient.Email)
	if err != nil {
		if _, ok := apperr.IsNotFound(err); ok {
			s.logger.Error("payments: patient without account", "patient_id", patientID)
			return nil, "failed", apperr.MissingAccount("patient", patient.Email)
		}
		return nil, "failed", err
	}
	admin, err := s.directory.SuperAdmin(ctx)
	if err != nil {
		return nil, "failed", err
	}

	if current.PaymentStatus == appointments.PaymentPaid {
		s.logger.Info("payment already confirmed", "appointment_id", appointmentID)
		return current, "already_paid", nil
	}

	var (
		updated *appointments.Detail
		msgs    []notify.Message
	)
	err = store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sess, err := s.gateway.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrPaymentNotConfirmed, err)
		}
		if sess.PaymentStatus != SessionPaid {
			return apperr.ErrPaymentNotConfirmed
		}

		updated, err = s.appointments.MarkPaid(ctx, tx, appointmentID)
		if err != nil {
			if errors.Is(err, apperr.ErrPaymentAlreadyMade) {
				return errLostConfirmRace
			}
			return err
		}

		slot := notify.Slot{Start: updated.Schedule.StartDate, End: updated.Schedule.EndDate}
		msgs = []notify.Message{
			s.composer.PaymentSuccessful(notify.RecipientFor(patientAccount, directory.RolePatient), patient.Name, updated.Doctor.Name, slot),
			s.composer.NewPaymentReceived(notify.RecipientFor(admin, directory.RoleSuperAdmin), updated.Doctor.AppointmentFee, patient.Name, updated.Doctor.Name, slot),
		}
		return s.notifications.InsertBatch(ctx, tx, notify.Notifications(msgs))
	})
	switch {
	case errors.Is(err, errLostConfirmRace):
		// A concurrent confirm won or the sweeper removed the booking.
		latest, err := s.appointments.Get(ctx, nil, appointmentID)
		if err != nil {
			return nil, "failed", err
		}
		if latest.PaymentStatus != appointments.PaymentPaid {
			return nil, "failed", fmt.Errorf("payments: appointment %s changed during confirmation", appointmentID)
		}
		return latest, "already_paid", nil
	case errors.Is(err, apperr.ErrPaymentNotConfirmed):
		s.logger.Warn("checkout session not paid", "appointment_id", appointmentID, "session_id", sessionID, "error", err)
		return nil, "unpaid", err
	case err != nil:
		return nil, "failed", err
	}

	if failed := s.pusher.Push(ctx, msgs); failed > 0 {
		s.logger.Warn("payments: some notifications were not pushed", "appointment_id", appointmentID, "failed", failed)
	}
	s.logger.Info("payment confirmed", "appointment_id", appointmentID, "patient_id", patientID)
	return updated, "paid", nil
}

func (s *Service) observe(result string) {
	if s.recorder != nil && result != "" {
		s.recorder.ObserveConfirmation(result)
	}
}
