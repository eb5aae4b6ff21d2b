package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert skips jobs whose (appointment_id, kind) already exists and
	// returns how many were added.
	Insert(ctx context.Context, jobs []Job) (int, error)
	CancelPending(ctx context.Context, clinicID, appointmentID uuid.UUID, at time.Time) (int, error)

	// ClaimDue moves due pending jobs to sending and counts the attempt, so
	// no job is handed to two callers.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, channel, providerMessageID string, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastErr string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// Release returns claimed jobs that were never attempted to pending and
	// gives back the attempt ClaimDue counted.
	Release(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error)
	// FailStale gives up on claims older than claimedBefore.
	FailStale(ctx context.Context, claimedBefore, at time.Time) (int, error)
}
