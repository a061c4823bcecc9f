package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/notify"
)

type fakeGateway struct {
	status  string
	err     error
	created []SessionParams
	lookups int
}

func (f *fakeGateway) CreateSession(_ context.Context, p SessionParams) (*Session, error) {
	f.created = append(f.created, p)
	return &Session{ID: "cs_test_1", URL: "https://checkout.stripe.com/pay/cs_test_1"}, nil
}

func (f *fakeGateway) GetSession(_ context.Context, id string) (*Session, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return &Session{ID: id, PaymentStatus: f.status}, nil
}

type pushRecorder struct{ titles []string }

func (p *pushRecorder) Publish(_ context.Context, _ uuid.UUID, e notify.Event) error {
	p.titles = append(p.titles, e.Notification.Title)
	return nil
}

type results map[string]int

func (r results) ObserveConfirmation(result string) { r[result]++ }

var detailCols = []string{
	"id", "patient_id", "doctor_id", "schedule_id", "video_calling_id",
	"status", "payment_status", "created_at", "updated_at",
	"doctor_email", "doctor_name", "appointment_fee",
	"patient_email", "patient_name",
	"start_date", "end_date",
}

type fixture struct {
	apptID, patientID, doctorID, scheduleID uuid.UUID
	patientAccount, adminAccount            uuid.UUID
	start                                   time.Time
}

func newFixture() fixture {
	return fixture{
		apptID:         uuid.New(),
		patientID:      uuid.New(),
		doctorID:       uuid.New(),
		scheduleID:     uuid.New(),
		patientAccount: uuid.New(),
		adminAccount:   uuid.New(),
		start:          time.Date(2025, 1, 28, 14, 0, 0, 0, time.UTC),
	}
}

func (f fixture) detailRows(paymentStatus string) *pgxmock.Rows {
	return pgxmock.NewRows(detailCols).AddRow(
		f.apptID, f.patientID, f.doctorID, f.scheduleID, "video-1",
		"SCHEDULED", paymentStatus, f.start.Add(-time.Hour), f.start.Add(-time.Hour),
		"house@clinic.test", "Gregory House", 500.0,
		"pat@clinic.test", "Pat Doe",
		f.start, f.start.Add(30*time.Minute),
	)
}

func (f fixture) expectResolve(mock pgxmock.PgxPoolIface, paymentStatus string) {
	mock.ExpectQuery("FROM appointments a").WithArgs(f.apptID).WillReturnRows(f.detailRows(paymentStatus))
	mock.ExpectQuery("FROM patients").WithArgs(f.patientID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name"}).AddRow(f.patientID, "pat@clinic.test", "Pat Doe"))
	mock.ExpectQuery("FROM users").WithArgs("pat@clinic.test").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role"}).AddRow(f.patientAccount, "pat@clinic.test", "PATIENT"))
	mock.ExpectQuery("FROM users").WithArgs("SUPER_ADMIN").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role"}).AddRow(f.adminAccount, "admin@clinic.test", "SUPER_ADMIN"))
}

// notificationArgs matches the INSERT arguments for n notifications.
func notificationArgs(n int) []any {
	args := make([]any, n*8)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newTestService(mock pgxmock.PgxPoolIface, gw Gateway, push notify.Dispatcher) *Service {
	return NewService(Deps{
		Pool:          mock,
		Appointments:  appointments.NewStore(mock),
		Directory:     directory.NewStore(mock),
		Notifications: notify.NewStore(mock),
		Gateway:       gw,
		Pusher:        notify.NewPusher(push, nil),
		URLs:          URLs{Success: "http://localhost:3000/success", Cancel: "http://localhost:3000/dashboard"},
	})
}

func TestConfirmPaymentTwiceNotifiesOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	f.expectResolve(mock, "UNPAID")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").WithArgs(f.apptID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payments").WithArgs(f.apptID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("FROM appointments a").WithArgs(f.apptID).WillReturnRows(f.detailRows("PAID"))
	mock.ExpectExec("INSERT INTO notifications").WithArgs(notificationArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	// second call sees PAID and stops before the gateway
	f.expectResolve(mock, "PAID")

	gw := &fakeGateway{status: SessionPaid}
	push := &pushRecorder{}
	counts := results{}
	svc := newTestService(mock, gw, push).WithRecorder(counts)

	first, err := svc.ConfirmPayment(context.Background(), "cs_test_1", f.patientID, f.apptID)
	require.NoError(t, err)
	second, err := svc.ConfirmPayment(context.Background(), "cs_test_1", f.patientID, f.apptID)
	require.NoError(t, err)

	assert.Equal(t, appointments.PaymentPaid, first.PaymentStatus)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
	assert.Equal(t, 1, gw.lookups)
	assert.Equal(t, []string{"Payment Successful", "New Payment Received"}, push.titles)
	assert.Equal(t, 1, counts["paid"])
	assert.Equal(t, 1, counts["already_paid"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentUnpaidSessionIsPaymentRequired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	f.expectResolve(mock, "UNPAID")
	mock.ExpectBegin()
	mock.ExpectRollback()

	push := &pushRecorder{}
	_, err = newTestService(mock, &fakeGateway{status: "unpaid"}, push).
		ConfirmPayment(context.Background(), "cs_test_1", f.patientID, f.apptID)
	require.ErrorIs(t, err, apperr.ErrPaymentNotConfirmed)
	assert.Equal(t, http.StatusPaymentRequired, apperr.HTTPStatus(err))
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentGatewayFailureIsPaymentRequired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	f.expectResolve(mock, "UNPAID")
	mock.ExpectBegin()
	mock.ExpectRollback()

	lookupErr := errors.New("No such checkout.session: cs_missing")
	push := &pushRecorder{}
	counts := results{}
	_, err = newTestService(mock, &fakeGateway{err: lookupErr}, push).WithRecorder(counts).
		ConfirmPayment(context.Background(), "cs_missing", f.patientID, f.apptID)
	require.ErrorIs(t, err, apperr.ErrPaymentNotConfirmed)
	require.ErrorIs(t, err, lookupErr)
	assert.Equal(t, http.StatusPaymentRequired, apperr.HTTPStatus(err))
	assert.NotContains(t, apperr.PublicMessage(err), "checkout.session")
	assert.Equal(t, 1, counts["unpaid"])
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentLosesRaceToConcurrentConfirm(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	f.expectResolve(mock, "UNPAID")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").WithArgs(f.apptID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	mock.ExpectQuery("FROM appointments a").WithArgs(f.apptID).WillReturnRows(f.detailRows("PAID"))

	push := &pushRecorder{}
	detail, err := newTestService(mock, &fakeGateway{status: SessionPaid}, push).
		ConfirmPayment(context.Background(), "cs_test_1", f.patientID, f.apptID)
	require.NoError(t, err)
	assert.Equal(t, appointments.PaymentPaid, detail.PaymentStatus)
	assert.Empty(t, push.titles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentAfterSweepIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	f.expectResolve(mock, "UNPAID")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").WithArgs(f.apptID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	mock.ExpectQuery("FROM appointments a").WithArgs(f.apptID).WillReturnError(pgx.ErrNoRows)

	_, err = newTestService(mock, &fakeGateway{status: SessionPaid}, nil).
		ConfirmPayment(context.Background(), "cs_test_1", f.patientID, f.apptID)
	resource, ok := apperr.IsNotFound(err)
	require.True(t, ok)
	assert.Equal(t, "appointment", resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentMissingResources(t *testing.T) {
	t.Run("appointment", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		apptID := uuid.New()
		mock.ExpectQuery("FROM appointments a").WithArgs(apptID).WillReturnError(pgx.ErrNoRows)
		_, err = newTestService(mock, &fakeGateway{}, nil).ConfirmPayment(context.Background(), "cs", uuid.New(), apptID)
		assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("super admin", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		f := newFixture()
		mock.ExpectQuery("FROM appointments a").WithArgs(f.apptID).WillReturnRows(f.detailRows("UNPAID"))
		mock.ExpectQuery("FROM patients").WithArgs(f.patientID).
			WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name"}).AddRow(f.patientID, "pat@clinic.test", "Pat Doe"))
		mock.ExpectQuery("FROM users").WithArgs("pat@clinic.test").
			WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role"}).AddRow(f.patientAccount, "pat@clinic.test", "PATIENT"))
		mock.ExpectQuery("FROM users").WithArgs("SUPER_ADMIN").WillReturnError(pgx.ErrNoRows)

		gw := &fakeGateway{status: SessionPaid}
		_, err = newTestService(mock, gw, nil).ConfirmPayment(context.Background(), "cs", f.patientID, f.apptID)
		resource, ok := apperr.IsNotFound(err)
		require.True(t, ok)
		assert.Equal(t, "super admin", resource)
		assert.Zero(t, gw.lookups)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var paymentCols = []string{"id", "appointment_id", "amount", "transaction_id", "status", "created_at", "patient_id", "name", "email"}

func TestInitPaymentSendsFeeInCents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	mock.ExpectQuery("FROM payments pay").WithArgs(f.apptID).
		WillReturnRows(pgxmock.NewRows(paymentCols).
			AddRow(uuid.New(), f.apptID, 500.0, "CLB-ABC", "UNPAID", f.start, f.patientID, "Pat Doe", "pat@clinic.test"))

	gw := &fakeGateway{}
	out, err := newTestService(mock, gw, nil).InitPayment(context.Background(), f.apptID)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_1", out.PaymentURL)

	require.Len(t, gw.created, 1)
	p := gw.created[0]
	assert.Equal(t, int64(50000), p.AmountCents)
	assert.Equal(t, "pat@clinic.test", p.CustomerEmail)
	assert.Equal(t, f.apptID.String(), p.Metadata["appointmentId"])
	assert.Equal(t, "Pat Doe", p.Metadata["customerName"])
	assert.Equal(t, "http://localhost:3000/success?session_id={CHECKOUT_SESSION_ID}&patient_id="+f.patientID.String()+"&appointment_id="+f.apptID.String(), p.SuccessURL)
	assert.Equal(t, "http://localhost:3000/dashboard", p.CancelURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitPaymentRejectsPaidOrMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := newFixture()
	mock.ExpectQuery("FROM payments pay").WithArgs(f.apptID).
		WillReturnRows(pgxmock.NewRows(paymentCols).
			AddRow(uuid.New(), f.apptID, 500.0, "CLB-ABC", "PAID", f.start, f.patientID, "Pat Doe", "pat@clinic.test"))
	mock.ExpectQuery("FROM payments pay").WithArgs(f.apptID).WillReturnError(pgx.ErrNoRows)

	gw := &fakeGateway{}
	svc := newTestService(mock, gw, nil)

	_, err = svc.InitPayment(context.Background(), f.apptID)
	require.ErrorIs(t, err, apperr.ErrPaymentAlreadyMade)

	_, err = svc.InitPayment(context.Background(), f.apptID)
	resource, ok := apperr.IsNotFound(err)
	require.True(t, ok)
	assert.Equal(t, "payment information", resource)
	assert.Empty(t, gw.created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAmountCents(t *testing.T) {
	assert.Equal(t, int64(50000), AmountCents(500))
	assert.Equal(t, int64(1999), AmountCents(19.99))
}
