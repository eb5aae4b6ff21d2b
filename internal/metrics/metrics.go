package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking, reminder and waitlist flows.
// All methods are safe on a nil receiver.
type SchedulingMetrics struct {
	bookings       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	reminders      *prometheus.CounterVec
	waitlistOffers *prometheus.CounterVec
	outbound       *prometheus.CounterVec
	calendarErrors prometheus.Counter
	passDuration   *prometheus.HistogramVec
	passErrors     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by result",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status",
		}, []string{"status"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "jobs_total",
			Help:      "Reminder job outcomes",
		}, []string{"result"}),
		waitlistOffers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "waitlist",
			Name:      "offers_total",
			Help:      "Waitlist offer outcomes",
		}, []string{"result"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound patient messages",
		}, []string{"channel", "status"}),
		calendarErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "calendar",
			Name:      "errors_total",
			Help:      "External calendar lookups that failed and were ignored",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "worker",
			Name:      "pass_duration_seconds",
			Help:      "Duration of background task passes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		passErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "worker",
			Name:      "pass_errors_total",
			Help:      "Background task passes that returned an error or panicked",
		}, []string{"task"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.transitions, m.reminders, m.waitlistOffers,
		m.outbound, m.calendarErrors, m.passDuration, m.passErrors)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveReminder(result string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveWaitlistOffer(result string) {
	if m == nil {
		return
	}
	m.waitlistOffers.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveOutbound(channel, status string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(channel, status).Inc()
}

func (m *SchedulingMetrics) ObserveCalendarError() {
	if m == nil {
		return
	}
	m.calendarErrors.Inc()
}

func (m *SchedulingMetrics) ObservePass(task string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(task).Observe(seconds)
	if failed {
		m.passErrors.WithLabelValues(task).Inc()
	}
}
