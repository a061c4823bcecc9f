// Package metrics exposes Prometheus instruments for the appointment lifecycle.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LifecycleMetrics exposes counters/histograms for booking, payment and expiry flows.
type LifecycleMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	sweptTotal         prometheus.Counter
	sweepLatency       prometheus.Histogram
	dispatchTotal      *prometheus.CounterVec
}

func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	m := &LifecycleMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Appointment booking attempts by result",
		}, []string{"result"}),
		confirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "confirmations_total",
			Help:      "Payment confirmation calls by result",
		}, []string{"result"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "expiry",
			Name:      "swept_appointments_total",
			Help:      "Unpaid appointments deleted by the expiry sweeper",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "expiry",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one expiry sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "push_total",
			Help:      "Notification push attempts by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.confirmationsTotal, m.sweptTotal, m.sweepLatency, m.dispatchTotal)
	return m
}

// ObserveBooking records one booking outcome: created, rejected or failed.
func (m *LifecycleMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

// ObserveConfirmation records one confirm call: paid, already_paid, unpaid or failed.
func (m *LifecycleMetrics) ObserveConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(result).Inc()
}

func (m *LifecycleMetrics) ObserveSweep(swept int, seconds float64) {
	if m == nil {
		return
	}
	m.sweptTotal.Add(float64(swept))
	m.sweepLatency.Observe(seconds)
}

func (m *LifecycleMetrics) ObserveDispatch(status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(status).Inc()
}
