package bootstrap

import (
	"time"

	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/expiry"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/store"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Lifecycle holds the appointment lifecycle services sharing one pool.
type Lifecycle struct {
	Appointments  *appointments.Store
	Notifications *notify.Store
	Orchestrator  *booking.Orchestrator
	Payments      *payments.Service
	Sweeper       *expiry.Sweeper
}

// BuildComposer returns a composer rendering times in the configured zone.
// An unknown zone falls back to UTC with a warning.
func BuildComposer(cfg *appconfig.Config, logger *logging.Logger) *notify.Composer {
	if logger == nil {
		logger = logging.Default()
	}
	loc := time.UTC
	if cfg != nil && cfg.DisplayTimezone != "" {
		l, err := time.LoadLocation(cfg.DisplayTimezone)
		if err != nil {
			logger.Warn("unknown display timezone, using UTC", "timezone", cfg.DisplayTimezone, "error", err)
		} else {
			loc = l
		}
	}
	return notify.NewComposer(loc)
}

// BuildGateway returns the Stripe checkout gateway.
func BuildGateway(cfg *appconfig.Config, logger *logging.Logger) *payments.StripeGateway {
	return payments.NewStripeGateway(cfg.StripeSecretKey, logger).
		WithBaseURL(cfg.StripeBaseURL).
		WithDryRun(cfg.StripeDryRun)
}

// BuildLifecycle wires the stores, orchestrator, payment service and
// sweeper. recorder may be nil.
func BuildLifecycle(pool store.Pool, cfg *appconfig.Config, gateway payments.Gateway, dispatcher notify.Dispatcher, recorder *metrics.LifecycleMetrics, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	composer := BuildComposer(cfg, logger)
	pusher := notify.NewPusher(dispatcher, logger)
	if recorder != nil {
		pusher.WithRecorder(recorder)
	}

	dir := directory.NewStore(pool)
	ledger := slots.NewLedger(pool)
	appts := appointments.NewStore(pool)
	inbox := notify.NewStore(pool)

	orchestrator := booking.NewOrchestrator(booking.Deps{
		Pool:          pool,
		Directory:     dir,
		Ledger:        ledger,
		Appointments:  appts,
		Notifications: inbox,
		Composer:      composer,
		Pusher:        pusher,
		Logger:        logger.With("component", "booking"),
	}).WithGracePeriod(cfg.PaymentGracePeriod)

	service := payments.NewService(payments.Deps{
		Pool:          pool,
		Appointments:  appts,
		Directory:     dir,
		Notifications: inbox,
		Gateway:       gateway,
		Composer:      composer,
		Pusher:        pusher,
		URLs:          payments.URLs{Success: cfg.PaymentSuccessURL, Cancel: cfg.PaymentCancelURL},
		Logger:        logger.With("component", "payments"),
	})

	sweeper := expiry.NewSweeper(pool, appts, ledger, inbox, pusher, logger.With("component", "expiry")).
		WithInterval(cfg.SweepInterval).
		WithGracePeriod(cfg.PaymentGracePeriod).
		WithComposer(composer)

	if recorder != nil {
		orchestrator.WithRecorder(recorder)
		service.WithRecorder(recorder)
		sweeper.WithRecorder(recorder)
	}

	return &Lifecycle{
		Appointments:  appts,
		Notifications: inbox,
		Orchestrator:  orchestrator,
		Payments:      service,
		Sweeper:       sweeper,
	}
}
