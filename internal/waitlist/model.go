package waitlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusOffered  Status = "offered"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusDeclined Status = "declined"
)

type Entry struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	DoctorID    *uuid.UUID // nil: any doctor of the specialty
	SpecialtyID uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	Patient     appointment.Patient
	Priority    int
	Status      Status

	OfferToken      string
	OfferedDoctorID *uuid.UUID
	OfferedStartsAt *time.Time
	OfferedEndsAt   *time.Time
	OfferExpiresAt  *time.Time
	AppointmentID   *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfferedSlot rebuilds the slot an entry was offered, or false when there is none.
func (e *Entry) OfferedSlot() (appointment.FreedSlot, bool) {
	if e.OfferedDoctorID == nil || e.OfferedStartsAt == nil || e.OfferedEndsAt == nil {
		return appointment.FreedSlot{}, false
	}
	return appointment.FreedSlot{
		ClinicID:    e.ClinicID,
		DoctorID:    *e.OfferedDoctorID,
		SpecialtyID: e.SpecialtyID,
		StartsAt:    *e.OfferedStartsAt,
		EndsAt:      *e.OfferedEndsAt,
	}, true
}

type Offer struct {
	Token     string
	DoctorID  uuid.UUID
	StartsAt  time.Time
	EndsAt    time.Time
	ExpiresAt time.Time
}

type Filter struct {
	Status      Status
	SpecialtyID *uuid.UUID
	DoctorID    *uuid.UUID
	Limit       int
}
