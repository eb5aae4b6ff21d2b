package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Repository persists waitlist entries. Status changes are compare-and-swap
// on the current status and report appointment.ErrNotFound when they miss.
type Repository interface {
	Create(ctx context.Context, e *Entry) (*Entry, error)
	Get(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error)
	List(ctx context.Context, clinicID uuid.UUID, f Filter) ([]Entry, error)

	// NextCandidate returns the first waiting entry eligible for the slot,
	// by priority then creation time.
	NextCandidate(ctx context.Context, slot appointment.FreedSlot) (*Entry, error)
	OpenOfferExists(ctx context.Context, slot appointment.FreedSlot) (bool, error)

	MarkOffered(ctx context.Context, clinicID, id uuid.UUID, offer Offer, at time.Time) (*Entry, error)
	MarkAccepted(ctx context.Context, clinicID, id, appointmentID uuid.UUID, at time.Time) (*Entry, error)
	// CloseOffer moves an offered entry to expired or declined.
	CloseOffer(ctx context.Context, clinicID, id uuid.UUID, to Status, at time.Time) (*Entry, error)
	// Requeue returns an offered entry to waiting and clears the offer.
	Requeue(ctx context.Context, clinicID, id uuid.UUID, at time.Time) (*Entry, error)

	// ListLapsedOffers spans all clinics; used by the expiry sweep.
	ListLapsedOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// ListStalledSlots returns future slots last offered to an entry that is
	// now declined or expired, with no open offer and a waiting candidate.
	ListStalledSlots(ctx context.Context, now time.Time, limit int) ([]appointment.FreedSlot, error)
	FindOfferByPhone(ctx context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Entry, error)
}
