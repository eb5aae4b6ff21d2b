// Package events records appointment lifecycle events: always to the
// event_logs table, and to Kafka when brokers are configured.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const (
	AppointmentCreated   = "APPOINTMENT_CREATED"
	AppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	AppointmentCancelled = "APPOINTMENT_CANCELLED"
	AppointmentCompleted = "APPOINTMENT_COMPLETED"
	AppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	WaitlistOffered      = "WAITLIST_OFFERED"
	WaitlistAccepted     = "WAITLIST_ACCEPTED"
	WaitlistDeclined     = "WAITLIST_DECLINED"
	WaitlistExpired      = "WAITLIST_EXPIRED"
	ReminderFailed       = "REMINDER_FAILED"
)

type Event struct {
	Type          string
	ClinicID      uuid.UUID
	AppointmentID *uuid.UUID
	Payload       map[string]any
	OccurredAt    time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Multi fans an event out to every recorder. Failures are logged and never
// returned: lifecycle events must not fail the operation that produced them.
type Multi struct {
	recorders []Recorder
	logger    *slog.Logger
}

func NewMulti(logger *slog.Logger, recorders ...Recorder) *Multi {
	return &Multi{recorders: recorders, logger: logging.OrDefault(logger)}
}

func (m *Multi) Record(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for _, r := range m.recorders {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			m.logger.Error("record event failed", "event_type", ev.Type, "clinic_id", ev.ClinicID, "error", err)
		}
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
