package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	JWTSecret     string
	Appointments  *handlers.AppointmentsHandler
	Payments      *handlers.PaymentsHandler
	Notifications *handlers.NotificationsHandler
	// AdminOverview is optional; the route is omitted when nil.
	AdminOverview  *handlers.AdminOverviewHandler
	MetricsHandler http.Handler
	RateLimiter    *httpmiddleware.RateLimiter

	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	// Public endpoints
	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	auth := httpmiddleware.Authenticate(cfg.JWTSecret)
	patient := httpmiddleware.RequireRole(directory.RolePatient)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(auth)

		api.Route("/appointments", func(appts chi.Router) {
			appts.With(patient).Post("/", cfg.Appointments.Create)
			appts.With(httpmiddleware.RequireRole(directory.RoleDoctor, directory.RoleAdmin, directory.RoleSuperAdmin)).
				Patch("/{appointmentID}/status", cfg.Appointments.UpdateStatus)
		})

		api.Route("/payments", func(pay chi.Router) {
			pay.Use(patient)
			pay.Post("/init/{appointmentID}", cfg.Payments.Init)
			pay.Post("/payment-success", cfg.Payments.Success)
		})

		api.Route("/notifications", func(n chi.Router) {
			n.Get("/my-notifications", cfg.Notifications.List)
			n.Get("/my-notifications/{notificationID}", cfg.Notifications.Get)
			n.Patch("/toggle-read-unread/{notificationID}", cfg.Notifications.ToggleRead)
			n.Delete("/delete-notification/{notificationID}", cfg.Notifications.Delete)
		})
	})

	r.With(auth).Get("/ws/notifications", cfg.Notifications.Socket)

	if cfg.AdminOverview != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(auth)
			admin.Use(httpmiddleware.RequireRole(directory.RoleAdmin, directory.RoleSuperAdmin))
			admin.Get("/overview", cfg.AdminOverview.GetOverview)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
