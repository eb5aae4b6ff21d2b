package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

var errNotClaimed = errors.New("reminder job is not claimed")

type PgRepository struct {
	db db.DB
}

func NewPgRepository(pool db.DB) *PgRepository {
	return &PgRepository{db: pool}
}

const jobColumns = `id, clinic_id, appointment_id, kind, channel, fire_at, status, attempts, max_attempts,
	next_attempt_at, last_error, claimed_at, delivered_at, provider_message_id, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var lastErr, providerID *string
	err := row.Scan(&j.ID, &j.ClinicID, &j.AppointmentID, &j.Kind, &j.Channel, &j.FireAt, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.NextAttemptAt, &lastErr, &j.ClaimedAt, &j.DeliveredAt,
		&providerID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		j.LastError = *lastErr
	}
	if providerID != nil {
		j.ProviderMessageID = *providerID
	}
	return &j, nil
}

func (r *PgRepository) Insert(ctx context.Context, jobs []Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	const cols = 9
	values := make([]string, 0, len(jobs))
	args := make([]any, 0, len(jobs)*cols)
	for i, j := range jobs {
		n := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, 'pending', 0, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+9))
		args = append(args, j.ID, j.ClinicID, j.AppointmentID, j.Kind, j.Channel, j.FireAt,
			j.MaxAttempts, j.FireAt, j.CreatedAt)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO reminder_jobs (id, clinic_id, appointment_id, kind, channel, fire_at,
			status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES `+strings.Join(values, ", ")+`
		ON CONFLICT (appointment_id, kind) DO NOTHING
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("insert reminder jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) CancelPending(ctx context.Context, clinicID, appointmentID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = $3
		WHERE clinic_id = $1 AND appointment_id = $2 AND status = 'pending'
	`, clinicID, appointmentID, at)
	if err != nil {
		return 0, fmt.Errorf("cancel reminder jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE reminder_jobs
		SET status = 'sending',
		    attempts = attempts + 1,
		    claimed_at = $1,
		    updated_at = $1
		WHERE id IN (
			SELECT id FROM reminder_jobs
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminder jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// finish updates a claimed job; a job no longer in sending was released meanwhile.
func (r *PgRepository) finish(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update reminder job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotClaimed
	}
	return nil
}

func (r *PgRepository) MarkDelivered(ctx context.Context, id uuid.UUID, channel, providerMessageID string, at time.Time) error {
	return r.finish(ctx, `
		UPDATE reminder_jobs
		SET status = 'delivered', channel = $2, provider_message_id = $3, delivered_at = $4, updated_at = $4, last_error = NULL
		WHERE id = $1 AND status = 'sending'
	`, id, channel, providerMessageID, at)
}

func (r *PgRepository) MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastErr string, at time.Time) error {
	return r.finish(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', next_attempt_at = $2, last_error = $3, claimed_at = NULL, updated_at = $4
		WHERE id = $1 AND status = 'sending'
	`, id, nextAttemptAt, lastErr, at)
}

func (r *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error {
	return r.finish(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed', last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'sending'
	`, id, lastErr, at)
}

func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.finish(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'sending'
	`, id, reason, at)
}

func (r *PgRepository) Release(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', attempts = GREATEST(attempts - 1, 0), claimed_at = NULL, updated_at = $2
		WHERE id = ANY($1) AND status = 'sending'
	`, ids, at)
	if err != nil {
		return 0, fmt.Errorf("release reminder jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) FailStale(ctx context.Context, claimedBefore, at time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed', last_error = 'delivery outcome unknown: claim timed out', updated_at = $2
		WHERE status = 'sending' AND claimed_at < $1
	`, claimedBefore, at)
	if err != nil {
		return 0, fmt.Errorf("fail stale reminder jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
