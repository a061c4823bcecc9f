package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// AdminOverviewHandler serves the admin dashboard counters.
type AdminOverviewHandler struct {
	db          *sql.DB
	gracePeriod time.Duration
	logger      *logging.Logger
	now         func() time.Time
}

// NewAdminOverviewHandler creates a handler over a database/sql handle.
func NewAdminOverviewHandler(db *sql.DB, gracePeriod time.Duration, logger *logging.Logger) *AdminOverviewHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gracePeriod <= 0 {
		gracePeriod = 30 * time.Minute
	}
	return &AdminOverviewHandler{db: db, gracePeriod: gracePeriod, logger: logger, now: time.Now}
}

// OverviewResponse contains the admin dashboard metrics.
type OverviewResponse struct {
	Appointments AppointmentMetrics `json:"appointments"`
	Payments     RevenueMetrics     `json:"payments"`
	Slots        SlotMetrics        `json:"slots"`
	Unread       int                `json:"unread_notifications"`
}

// AppointmentMetrics counts appointments by payment status.
type AppointmentMetrics struct {
	Total    int `json:"total"`
	Paid     int `json:"paid"`
	Unpaid   int `json:"unpaid"`
	Expiring int `json:"expiring"`
}

// RevenueMetrics sums payments. Amounts are in cents.
type RevenueMetrics struct {
	CollectedCents int64 `json:"collected_cents"`
	PendingCents   int64 `json:"pending_cents"`
}

// SlotMetrics counts doctor schedule slots.
type SlotMetrics struct {
	Booked int `json:"booked"`
	Free   int `json:"free"`
}

// GetOverview returns the dashboard overview.
// GET /admin/overview
func (h *AdminOverviewHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp OverviewResponse

	if err := h.appointmentCounts(ctx, &resp.Appointments); err != nil {
		h.logger.Error("admin overview: appointment counts", "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// The remaining counters are best effort; a failed query leaves zero.
	if err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE payment_status = 'UNPAID' AND created_at <= $1`,
		h.now().Add(-h.gracePeriod),
	).Scan(&resp.Appointments.Expiring); err != nil {
		h.logger.Warn("admin overview: expiring count", "error", err)
	}
	if err := h.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(ROUND(SUM(amount) FILTER (WHERE status = 'PAID') * 100), 0)::bigint,
			COALESCE(ROUND(SUM(amount) FILTER (WHERE status = 'UNPAID') * 100), 0)::bigint
		FROM payments`,
	).Scan(&resp.Payments.CollectedCents, &resp.Payments.PendingCents); err != nil {
		h.logger.Warn("admin overview: revenue", "error", err)
	}
	if err := h.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE is_booked),
			COUNT(*) FILTER (WHERE NOT is_booked)
		FROM doctor_schedules`,
	).Scan(&resp.Slots.Booked, &resp.Slots.Free); err != nil {
		h.logger.Warn("admin overview: slots", "error", err)
	}
	if err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE is_read = false`,
	).Scan(&resp.Unread); err != nil {
		h.logger.Warn("admin overview: unread notifications", "error", err)
	}

	writeData(w, http.StatusOK, "Overview retrieved successfully", resp)
}

func (h *AdminOverviewHandler) appointmentCounts(ctx context.Context, out *AppointmentMetrics) error {
	rows, err := h.db.QueryContext(ctx,
		`SELECT payment_status, COUNT(*) FROM appointments GROUP BY payment_status`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		switch status {
		case "PAID":
			out.Paid = count
		case "UNPAID":
			out.Unpaid = count
		}
		out.Total += count
	}
	return rows.Err()
}
