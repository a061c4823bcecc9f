// Package expiry reclaims appointments whose payment window has lapsed.
package expiry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/internal/store"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

type appointmentStore interface {
	FindUnpaidOlderThan(ctx context.Context, cutoff time.Time) ([]appointments.UnpaidDetail, error)
	LockUnpaid(ctx context.Context, q store.Querier, ids []uuid.UUID) ([]uuid.UUID, error)
	DeleteManyWithPayments(ctx context.Context, q store.Querier, ids []uuid.UUID) (int64, error)
}

type slotReleaser interface {
	Release(ctx context.Context, q store.Querier, doctorID, scheduleID uuid.UUID) error
}

type notificationStore interface {
	InsertBatch(ctx context.Context, q store.Querier, items []notify.Notification) error
}

// Recorder observes sweep outcomes.
type Recorder interface {
	ObserveSweep(swept int, seconds float64)
}

// Result summarises one sweep.
type Result struct {
	Candidates int
	Swept      int
	Notified   int
}

// Sweeper deletes stale unpaid appointments, frees their slots and tells
// both parties.
type Sweeper struct {
	pool          store.Pool
	appointments  appointmentStore
	slots         slotReleaser
	notifications notificationStore
	composer      *notify.Composer
	pusher        *notify.Pusher
	logger        *logging.Logger
	tracer        trace.Tracer
	recorder      Recorder

	interval    time.Duration
	gracePeriod time.Duration
	now         func() time.Time
}

func NewSweeper(pool store.Pool, appts appointmentStore, slots slotReleaser, notifications notificationStore, pusher *notify.Pusher, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		pool:          pool,
		appointments:  appts,
		slots:         slots,
		notifications: notifications,
		composer:      notify.NewComposer(time.UTC),
		pusher:        pusher,
		logger:        logger,
		tracer:        otel.Tracer("clinic.internal.expiry"),
		interval:      time.Minute,
		gracePeriod:   30 * time.Minute,
		now:           time.Now,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithGracePeriod(d time.Duration) *Sweeper {
	if d > 0 {
		s.gracePeriod = d
	}
	return s
}

func (s *Sweeper) WithComposer(c *notify.Composer) *Sweeper {
	if c != nil {
		s.composer = c
	}
	return s
}

func (s *Sweeper) WithRecorder(r Recorder) *Sweeper {
	s.recorder = r
	return s
}

// WithClock overrides the time source used by the ticker loop.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Start sweeps once and then on every tick until ctx is cancelled. Errors
// are logged and the loop keeps going.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("expiry sweeper started", "interval", s.interval, "grace_period", s.gracePeriod)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep at the current time and logs the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) {
	res, err := s.SweepUnpaid(ctx, s.now())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if res.Swept > 0 {
		s.logger.Info("expired unpaid appointments", "swept", res.Swept, "notified", res.Notified)
	}
}

// SweepUnpaid removes every UNPAID appointment created at or before
// now minus the grace period. Deletes, slot releases and notifications
// commit together; pushes follow the commit.
func (s *Sweeper) SweepUnpaid(ctx context.Context, now time.Time) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "expiry.sweep_unpaid")
	defer span.End()
	started := time.Now()

	cutoff := now.Add(-s.gracePeriod)
	candidates, err := s.appointments.FindUnpaidOlderThan(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	res := Result{Candidates: len(candidates)}
	span.SetAttributes(attribute.Int("clinic.sweep.candidates", len(candidates)))
	if len(candidates) == 0 {
		return res, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	var msgs []notify.Message
	err = store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		locked, err := s.appointments.LockUnpaid(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return nil
		}
		stillUnpaid := make(map[uuid.UUID]struct{}, len(locked))
		for _, id := range locked {
			stillUnpaid[id] = struct{}{}
		}

		deleted, err := s.appointments.DeleteManyWithPayments(ctx, tx, locked)
		if err != nil {
			return err
		}
		res.Swept = int(deleted)

		for _, c := range candidates {
			if _, ok := stillUnpaid[c.ID]; !ok {
				continue
			}
			if err := s.slots.Release(ctx, tx, c.DoctorID, c.ScheduleID); err != nil {
				return err
			}
			msgs = append(msgs, s.cancellations(c)...)
		}
		return s.notifications.InsertBatch(ctx, tx, notify.Notifications(msgs))
	})
	if err != nil {
		span.RecordError(err)
		return Result{Candidates: len(candidates)}, err
	}
	res.Notified = len(msgs)
	span.SetAttributes(attribute.Int("clinic.sweep.swept", res.Swept))
	if s.recorder != nil {
		s.recorder.ObserveSweep(res.Swept, time.Since(started).Seconds())
	}

	if failed := s.pusher.Push(ctx, msgs); failed > 0 {
		s.logger.Warn("expiry: some notifications were not pushed", "failed", failed)
	}
	return res, nil
}

// cancellations builds the doctor and patient notices for one appointment.
// A party without a linked account is skipped and logged.
func (s *Sweeper) cancellations(c appointments.UnpaidDetail) []notify.Message {
	var out []notify.Message
	if c.DoctorAccount != nil {
		out = append(out, s.composer.CancelledForDoctor(notify.RecipientFor(c.DoctorAccount, directory.RoleDoctor), c.Patient.Name))
	} else {
		s.logger.Error("expiry: doctor without account", "appointment_id", c.ID, "doctor_id", c.DoctorID)
	}
	if c.PatientAccount != nil {
		out = append(out, s.composer.CancelledForPatient(notify.RecipientFor(c.PatientAccount, directory.RolePatient), c.Doctor.Name))
	} else {
		s.logger.Error("expiry: patient without account", "appointment_id", c.ID, "patient_id", c.PatientID)
	}
	return out
}
