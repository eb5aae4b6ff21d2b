// Package appointment computes availability, books slots with an at-most-one
// winner guarantee, and drives the appointment lifecycle.
package appointment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// SlotFreedHandler is told about slots released by a cancellation or no-show.
// Implementations must not block the caller.
type SlotFreedHandler interface {
	OnSlotFreed(ctx context.Context, slot FreedSlot)
}

// ReminderScheduler owns the reminder jobs of an appointment.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt *Appointment) error
	CancelForAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID) error
}

// Service coordinates availability, booking and status changes of
// appointments. Every operation is scoped to one clinic.
type Service struct {
	repo     Repository
	calendar calendar.Provider
	events   events.Recorder
	metrics  *metrics.SchedulingMetrics
	logger   *slog.Logger
	cfg      config.Config
	now      func() time.Time

	slotFreed SlotFreedHandler
	reminders ReminderScheduler
}

func NewService(repo Repository, cal calendar.Provider, rec events.Recorder, m *metrics.SchedulingMetrics, logger *slog.Logger, cfg config.Config) *Service {
	if cal == nil {
		cal = calendar.NoopProvider{}
	}
	if rec == nil {
		rec = events.Nop{}
	}
	return &Service{
		repo:     repo,
		calendar: cal,
		events:   rec,
		metrics:  m,
		logger:   logging.OrDefault(logger).With("component", "appointment"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetSlotFreedHandler wires the waitlist after construction; the waitlist
// itself books through this service.
func (s *Service) SetSlotFreedHandler(h SlotFreedHandler) { s.slotFreed = h }

// SetReminderScheduler wires the reminder scheduler. Without one, bookings
// and cancellations leave reminder jobs untouched.
func (s *Service) SetReminderScheduler(r ReminderScheduler) { s.reminders = r }

// GetAppointment loads an appointment of the clinic.
func (s *Service) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, clinicID, id)
}

// GetDoctor loads an active doctor of the clinic.
func (s *Service) GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, clinicID, doctorID)
}

// SlotTaken reports whether an active appointment overlaps [startsAt, endsAt).
func (s *Service) SlotTaken(ctx context.Context, clinicID, doctorID uuid.UUID, startsAt, endsAt time.Time) (bool, error) {
	busy, err := s.repo.ListActiveIntervals(ctx, clinicID, doctorID, startsAt, endsAt)
	if err != nil {
		return false, err
	}
	return len(busy) > 0, nil
}

func (s *Service) logEvent(ctx context.Context, appt *Appointment, eventType string, payload map[string]any) {
	id := appt.ID
	_ = s.events.Record(ctx, events.Event{
		Type:          eventType,
		ClinicID:      appt.ClinicID,
		AppointmentID: &id,
		Payload:       payload,
		OccurredAt:    s.now().UTC(),
	})
}
