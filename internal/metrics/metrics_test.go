package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("conflict")
	m.ObserveBooking("conflict")
	m.ObserveReminder("delivered")
	m.ObserveWaitlistOffer("offered")
	m.ObserveOutbound("whatsapp", "sent")
	m.ObserveCalendarError()
	m.ObservePass("reminders", 0.2, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.waitlistOffers.WithLabelValues("offered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbound.WithLabelValues("whatsapp", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calendarErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passErrors.WithLabelValues("reminders")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SchedulingMetrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("created")
		m.ObserveTransition("confirmed")
		m.ObserveReminder("failed")
		m.ObserveWaitlistOffer("expired")
		m.ObserveOutbound("email", "failed")
		m.ObserveCalendarError()
		m.ObservePass("x", 1, true)
	})
}
