package expiry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/store"
)

var unpaidCols = []string{
	"id", "patient_id", "doctor_id", "schedule_id", "video_calling_id",
	"status", "payment_status", "created_at", "updated_at",
	"doctor_email", "doctor_name", "appointment_fee",
	"patient_email", "patient_name",
	"start_date", "end_date",
	"doctor_account", "doctor_role", "patient_account", "patient_role",
}

var sweepNow = time.Date(2025, 1, 28, 13, 0, 0, 0, time.UTC)

type stale struct {
	id, patientID, doctorID, scheduleID uuid.UUID
	doctorAccount, patientAccount       string
	createdAt                           time.Time
}

func newStale(age time.Duration) stale {
	return stale{
		id:             uuid.New(),
		patientID:      uuid.New(),
		doctorID:       uuid.New(),
		scheduleID:     uuid.New(),
		doctorAccount:  uuid.NewString(),
		patientAccount: uuid.NewString(),
		createdAt:      sweepNow.Add(-age),
	}
}

func (s stale) row() []any {
	start := sweepNow.Add(24 * time.Hour)
	return []any{
		s.id, s.patientID, s.doctorID, s.scheduleID, "video-1",
		"SCHEDULED", "UNPAID", s.createdAt, s.createdAt,
		"house@clinic.test", "Gregory House", 500.0,
		"pat@clinic.test", "Pat Doe",
		start, start.Add(30 * time.Minute),
		s.doctorAccount, "DOCTOR", s.patientAccount, "PATIENT",
	}
}

type pushRecorder struct {
	titles     []string
	recipients []uuid.UUID
}

func (p *pushRecorder) Publish(_ context.Context, id uuid.UUID, e notify.Event) error {
	p.recipients = append(p.recipients, id)
	p.titles = append(p.titles, e.Notification.Title)
	return nil
}

// notificationArgs matches the INSERT arguments for n notifications, whose
// ids and slugs are generated during the sweep.
func notificationArgs(n int) []any {
	args := make([]any, n*8)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// expectDeletion expects the delete and release statements for one locked
// appointment.
func expectDeletion(mock pgxmock.PgxPoolIface, s stale) {
	ids := []uuid.UUID{s.id}
	mock.ExpectQuery("FOR UPDATE").WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(s.id))
	mock.ExpectExec("DELETE FROM payments").WithArgs(ids).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM appointments").WithArgs(ids).WillReturnResult(pgxmock.NewResult("DELETE", 1))
}

func newTestSweeper(mock pgxmock.PgxPoolIface, push notify.Dispatcher) *Sweeper {
	return NewSweeper(mock, appointments.NewStore(mock), slots.NewLedger(mock), notify.NewStore(mock), notify.NewPusher(push, nil), nil)
}

func expectCandidates(mock pgxmock.PgxPoolIface, rows ...[]any) {
	r := pgxmock.NewRows(unpaidCols)
	for _, row := range rows {
		r.AddRow(row...)
	}
	mock.ExpectQuery("WHERE a.payment_status = 'UNPAID'").WithArgs(sweepNow.Add(-30 * time.Minute)).WillReturnRows(r)
}

func TestSweepDeletesStaleAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	old := newStale(31 * time.Minute)
	expectCandidates(mock, old.row())
	mock.ExpectBegin()
	expectDeletion(mock, old)
	mock.ExpectExec("UPDATE doctor_schedules").WithArgs(old.doctorID, old.scheduleID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO notifications").WithArgs(notificationArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	push := &pushRecorder{}
	res, err := newTestSweeper(mock, push).SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.Equal(t, Result{Candidates: 1, Swept: 1, Notified: 2}, res)
	assert.Equal(t, []string{"Appointment Cancelled", "Appointment Cancelled"}, push.titles)
	assert.Equal(t, []uuid.UUID{uuid.MustParse(old.doctorAccount), uuid.MustParse(old.patientAccount)}, push.recipients)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepLeavesFreshAppointments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fresh := newStale(29 * time.Minute)
	require.True(t, fresh.createdAt.After(sweepNow.Add(-30*time.Minute)))
	// the cutoff excludes the 29 minute old booking, so the query yields nothing
	expectCandidates(mock)

	push := &pushRecorder{}
	res, err := newTestSweeper(mock, push).SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecondSweepIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	old := newStale(45 * time.Minute)
	expectCandidates(mock, old.row())
	mock.ExpectBegin()
	expectDeletion(mock, old)
	mock.ExpectExec("UPDATE doctor_schedules").WithArgs(old.doctorID, old.scheduleID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO notifications").WithArgs(notificationArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	expectCandidates(mock)

	push := &pushRecorder{}
	s := newTestSweeper(mock, push)
	_, err = s.SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)

	res, err := s.SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Zero(t, res.Swept)
	assert.Len(t, push.titles, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepSkipsAppointmentPaidMeanwhile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	old := newStale(31 * time.Minute)
	expectCandidates(mock, old.row())
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs([]uuid.UUID{old.id}).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	push := &pushRecorder{}
	res, err := newTestSweeper(mock, push).SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 1}, res)
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStillReleasesWhenAccountMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	old := newStale(31 * time.Minute)
	old.doctorAccount = ""
	expectCandidates(mock, old.row())
	mock.ExpectBegin()
	expectDeletion(mock, old)
	mock.ExpectExec("UPDATE doctor_schedules").WithArgs(old.doctorID, old.scheduleID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO notifications").WithArgs(notificationArgs(1)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	push := &pushRecorder{}
	res, err := newTestSweeper(mock, push).SweepUnpaid(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Swept)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []uuid.UUID{uuid.MustParse(old.patientAccount)}, push.recipients)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepRollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	old := newStale(31 * time.Minute)
	expectCandidates(mock, old.row())
	mock.ExpectBegin()
	expectDeletion(mock, old)
	reset := errors.New("connection reset")
	mock.ExpectExec("UPDATE doctor_schedules").WithArgs(old.doctorID, old.scheduleID).WillReturnError(reset)
	mock.ExpectRollback()

	push := &pushRecorder{}
	_, err = newTestSweeper(mock, push).SweepUnpaid(context.Background(), sweepNow)
	require.ErrorIs(t, err, reset)
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type flakyStore struct {
	calls atomic.Int32
}

func (f *flakyStore) FindUnpaidOlderThan(context.Context, time.Time) ([]appointments.UnpaidDetail, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("database unavailable")
	}
	return nil, nil
}

func (f *flakyStore) LockUnpaid(context.Context, store.Querier, []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *flakyStore) DeleteManyWithPayments(context.Context, store.Querier, []uuid.UUID) (int64, error) {
	return 0, nil
}

func TestStartKeepsTickingAfterErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fs := &flakyStore{}
	s := NewSweeper(mock, fs, slots.NewLedger(mock), notify.NewStore(mock), nil, nil).
		WithInterval(10 * time.Millisecond).
		WithClock(func() time.Time { return sweepNow })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fs.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
