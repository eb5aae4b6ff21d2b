package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSending   JobStatus = "sending"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// KindBooking is the confirmation message sent right after booking.
const KindBooking = "booking"

// KindBefore names the reminder that fires the given offset before the start.
func KindBefore(offset time.Duration) string {
	if offset%time.Hour == 0 {
		return fmt.Sprintf("before_%dh", offset/time.Hour)
	}
	return fmt.Sprintf("before_%dm", offset/time.Minute)
}

type Job struct {
	ID                uuid.UUID
	ClinicID          uuid.UUID
	AppointmentID     uuid.UUID
	Kind              string
	Channel           string
	FireAt            time.Time
	Status            JobStatus
	Attempts          int
	MaxAttempts       int
	NextAttemptAt     time.Time
	LastError         string
	ClaimedAt         *time.Time
	DeliveredAt       *time.Time
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DeliveryStats summarises one DeliverDue pass.
type DeliveryStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
	Skipped   int
}
