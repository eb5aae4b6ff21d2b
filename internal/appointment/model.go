package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Active appointments hold their slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type Actor string

const (
	ActorPatient Actor = "patient"
	ActorClinic  Actor = "clinic"
	ActorSystem  Actor = "system"
)

func (a Actor) Valid() bool {
	switch a {
	case ActorPatient, ActorClinic, ActorSystem:
		return true
	}
	return false
}

const (
	SourceDirect   = "direct"
	SourceWaitlist = "waitlist"
)

type Patient struct {
	Name  string
	Phone string
	Email string
	CPF   string
}

type Appointment struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
	DoctorName  string // filled on reads that join doctors
	Patient     Patient
	StartsAt    time.Time
	EndsAt      time.Time
	SlotMinutes int // frozen at booking time
	Status      Status

	ConfirmationToken string
	ConfirmedBy       *Actor
	ConfirmedAt       *time.Time

	CancelledBy        *Actor
	CancellationReason string
	CancelledAt        *time.Time

	CompletedAt *time.Time
	NoShowAt    *time.Time

	Source          string
	WaitlistEntryID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Doctor struct {
	ID                 uuid.UUID
	ClinicID           uuid.UUID
	SpecialtyID        uuid.UUID
	Name               string
	SlotMinutes        int
	Timezone           string
	ExternalCalendarID string
}

// Location falls back to UTC for unknown zone names.
func (d Doctor) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Specialty struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	Name     string
}

// WorkingWindow is a recurring weekly window in minutes after local midnight.
type WorkingWindow struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// ScheduleException replaces the weekly windows for one local date.
// A closed exception removes the whole day.
type ScheduleException struct {
	Day         time.Time
	Closed      bool
	StartMinute int
	EndMinute   int
}

type Schedule struct {
	Weekly     []WorkingWindow
	Exceptions []ScheduleException
}

// FreedSlot describes a slot released by a cancellation or no-show.
type FreedSlot struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
	StartsAt    time.Time
	EndsAt      time.Time
}
