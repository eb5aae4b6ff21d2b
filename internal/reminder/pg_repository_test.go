package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobFields = []string{"id", "clinic_id", "appointment_id", "kind", "channel", "fire_at", "status", "attempts",
	"max_attempts", "next_attempt_at", "last_error", "claimed_at", "delivered_at", "provider_message_id",
	"created_at", "updated_at"}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgInsertSkipsExistingJobs(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2025, 2, 27, 20, 0, 0, 0, time.UTC)
	apptID, clinicID := uuid.New(), uuid.New()
	jobs := []Job{
		{ID: uuid.New(), ClinicID: clinicID, AppointmentID: apptID, Kind: KindBooking, Channel: "whatsapp", FireAt: now, MaxAttempts: 5, CreatedAt: now},
		{ID: uuid.New(), ClinicID: clinicID, AppointmentID: apptID, Kind: "before_24h", Channel: "whatsapp", FireAt: now.Add(14 * time.Hour), MaxAttempts: 5, CreatedAt: now},
	}

	mock.ExpectExec(`ON CONFLICT \(appointment_id, kind\) DO NOTHING`).
		WithArgs(jobs[0].ID, clinicID, apptID, KindBooking, "whatsapp", now, 5, now, now,
			jobs[1].ID, clinicID, apptID, "before_24h", "whatsapp", jobs[1].FireAt, 5, jobs[1].FireAt, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := repo.Insert(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimDueUsesSkipLocked(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC)
	id := uuid.New()

	mock.ExpectQuery(`SET status = 'sending',\s+attempts = attempts \+ 1(?s).*FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 25).
		WillReturnRows(pgxmock.NewRows(jobFields).AddRow(
			id, uuid.New(), uuid.New(), "before_24h", "whatsapp", now, JobSending, 1,
			5, now, (*string)(nil), &now, (*time.Time)(nil), (*string)(nil),
			now.Add(-time.Hour), now))

	jobs, err := repo.ClaimDue(context.Background(), now, 25)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, JobSending, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkDeliveredRequiresClaim(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec(`WHERE id = \$1 AND status = 'sending'`).
		WithArgs(id, "whatsapp", "wamid.1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkDelivered(context.Background(), id, "whatsapp", "wamid.1", now)
	assert.ErrorIs(t, err, errNotClaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCancelPendingIsClinicScoped(t *testing.T) {
	repo, mock := newMockRepo(t)
	clinicID, apptID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec(`WHERE clinic_id = \$1 AND appointment_id = \$2 AND status = 'pending'`).
		WithArgs(clinicID, apptID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.CancelPending(context.Background(), clinicID, apptID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReleaseReturnsAttempt(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec(`SET status = 'pending', attempts = GREATEST\(attempts - 1, 0\), claimed_at = NULL(?s).*WHERE id = ANY\(\$1\) AND status = 'sending'`).
		WithArgs(ids, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.Release(context.Background(), ids, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.Release(context.Background(), nil, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
