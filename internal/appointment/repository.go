package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// StatusChange is the audit data written together with a new status.
type StatusChange struct {
	To     Status
	At     time.Time
	Actor  Actor
	Reason string
}

// AppointmentRef identifies an appointment across clinics.
type AppointmentRef struct {
	ClinicID uuid.UUID
	ID       uuid.UUID
}

// Repository contains all DB interactions needed by the service. Every
// method is scoped by clinic; rows of another clinic read as ErrNotFound.
type Repository interface {
	// GetDoctor returns active doctors only.
	GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error)
	GetSpecialty(ctx context.Context, clinicID, specialtyID uuid.UUID) (*Specialty, error)
	// GetSchedule returns the weekly windows and the exceptions whose day is in [fromDay, toDay].
	GetSchedule(ctx context.Context, clinicID, doctorID uuid.UUID, fromDay, toDay time.Time) (*Schedule, error)

	// ListActiveIntervals returns [starts_at, ends_at) of pending/confirmed
	// appointments of the doctor overlapping [from, to).
	ListActiveIntervals(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]calendar.Interval, error)

	// CreateAppointment inserts atomically; ErrSlotConflict when an active
	// appointment already holds an overlapping slot.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	// UpdateStatus is a compare-and-swap on the current status; ErrNotFound when it did not match.
	UpdateStatus(ctx context.Context, clinicID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error)
	// ListEndedConfirmed spans all clinics; used by the completion sweep.
	ListEndedConfirmed(ctx context.Context, endedBefore time.Time, limit int) ([]AppointmentRef, error)
	// FindNextActiveByPhone returns the earliest active appointment starting after now.
	FindNextActiveByPhone(ctx context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Appointment, error)
}
