package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	db db.DB
}

func NewPgRepository(pool db.DB) *PgRepository {
	return &PgRepository{db: pool}
}

var entryFields = []string{
	"id", "clinic_id", "doctor_id", "specialty_id", "window_start", "window_end",
	"patient_name", "patient_phone", "patient_email", "patient_cpf", "priority", "status",
	"offer_token", "offered_doctor_id", "offered_starts_at", "offered_ends_at", "offer_expires_at",
	"appointment_id", "created_at", "updated_at",
}

var entryColumns = strings.Join(entryFields, ", ")

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                 Entry
		email, cpf, token *string
	)
	err := row.Scan(
		&e.ID, &e.ClinicID, &e.DoctorID, &e.SpecialtyID, &e.WindowStart, &e.WindowEnd,
		&e.Patient.Name, &e.Patient.Phone, &email, &cpf, &e.Priority, &e.Status,
		&token, &e.OfferedDoctorID, &e.OfferedStartsAt, &e.OfferedEndsAt, &e.OfferExpiresAt,
		&e.AppointmentID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrNotFound
		}
		return nil, err
	}
	if email != nil {
		e.Patient.Email = *email
	}
	if cpf != nil {
		e.Patient.CPF = *cpf
	}
	if token != nil {
		e.OfferToken = *token
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const doctorFK = "waitlist_entries_doctor_clinic_fkey"

func (r *PgRepository) Create(ctx context.Context, e *Entry) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, clinic_id, doctor_id, specialty_id, window_start, window_end,
			patient_name, patient_phone, patient_email, patient_cpf, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING `+entryColumns,
		e.ID, e.ClinicID, e.DoctorID, e.SpecialtyID, e.WindowStart, e.WindowEnd,
		e.Patient.Name, e.Patient.Phone, nullable(e.Patient.Email), nullable(e.Patient.CPF),
		e.Priority, e.Status, e.CreatedAt,
	)
	created, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// doctor or specialty of another clinic
			if pgErr.ConstraintName == doctorFK {
				return nil, fmt.Errorf("doctor: %w", appointment.ErrNotFound)
			}
			return nil, fmt.Errorf("specialty: %w", appointment.ErrNotFound)
		}
		return nil, fmt.Errorf("insert waitlist entry: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id)
	return scanEntry(row)
}

func (r *PgRepository) List(ctx context.Context, clinicID uuid.UUID, f Filter) ([]Entry, error) {
	where := []string{"clinic_id = $1"}
	args := []any{clinicID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SpecialtyID != nil {
		args = append(args, *f.SpecialtyID)
		where = append(where, fmt.Sprintf("specialty_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY priority DESC, created_at, id
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return collectEntries(rows)
}

func (r *PgRepository) NextCandidate(ctx context.Context, slot appointment.FreedSlot) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE clinic_id = $1
		  AND specialty_id = $2
		  AND status = 'waiting'
		  AND (doctor_id IS NULL OR doctor_id = $3)
		  AND window_start <= $4 AND window_end > $4
		ORDER BY priority DESC, created_at, id
		LIMIT 1
	`, slot.ClinicID, slot.SpecialtyID, slot.DoctorID, slot.StartsAt)
	return scanEntry(row)
}

func (r *PgRepository) OpenOfferExists(ctx context.Context, slot appointment.FreedSlot) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM waitlist_entries
			WHERE clinic_id = $1 AND offered_doctor_id = $2 AND offered_starts_at = $3
			  AND status = 'offered'
		)
	`, slot.ClinicID, slot.DoctorID, slot.StartsAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open offer: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) MarkOffered(ctx context.Context, clinicID, id uuid.UUID, offer Offer, at time.Time) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = 'offered',
		    offer_token = $3,
		    offered_doctor_id = $4,
		    offered_starts_at = $5,
		    offered_ends_at = $6,
		    offer_expires_at = $7,
		    updated_at = $8
		WHERE clinic_id = $1 AND id = $2 AND status = 'waiting'
		RETURNING `+entryColumns,
		clinicID, id, offer.Token, offer.DoctorID, offer.StartsAt, offer.EndsAt, offer.ExpiresAt, at)
	return scanEntry(row)
}

func (r *PgRepository) MarkAccepted(ctx context.Context, clinicID, id, appointmentID uuid.UUID, at time.Time) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = 'accepted', appointment_id = $3, updated_at = $4
		WHERE clinic_id = $1 AND id = $2 AND status = 'offered'
		RETURNING `+entryColumns,
		clinicID, id, appointmentID, at)
	return scanEntry(row)
}

func (r *PgRepository) CloseOffer(ctx context.Context, clinicID, id uuid.UUID, to Status, at time.Time) (*Entry, error) {
	if to != StatusExpired && to != StatusDeclined {
		return nil, fmt.Errorf("%w: cannot close an offer as %s", appointment.ErrInvalidTransition, to)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $3, updated_at = $4
		WHERE clinic_id = $1 AND id = $2 AND status = 'offered'
		RETURNING `+entryColumns,
		clinicID, id, to, at)
	return scanEntry(row)
}

func (r *PgRepository) Requeue(ctx context.Context, clinicID, id uuid.UUID, at time.Time) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = 'waiting',
		    offer_token = NULL,
		    offered_doctor_id = NULL,
		    offered_starts_at = NULL,
		    offered_ends_at = NULL,
		    offer_expires_at = NULL,
		    updated_at = $3
		WHERE clinic_id = $1 AND id = $2 AND status = 'offered'
		RETURNING `+entryColumns,
		clinicID, id, at)
	return scanEntry(row)
}

func (r *PgRepository) ListLapsedOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'offered' AND offer_expires_at <= $1
		ORDER BY offer_expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed offers: %w", err)
	}
	return collectEntries(rows)
}

func (r *PgRepository) ListStalledSlots(ctx context.Context, now time.Time, limit int) ([]appointment.FreedSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT c.clinic_id, c.offered_doctor_id, c.specialty_id, c.offered_starts_at, c.offered_ends_at
		FROM waitlist_entries c
		WHERE c.status IN ('declined', 'expired') AND c.offered_starts_at > $1
		  AND NOT EXISTS (
			SELECT 1 FROM waitlist_entries o
			WHERE o.clinic_id = c.clinic_id AND o.status = 'offered'
			  AND o.offered_doctor_id = c.offered_doctor_id AND o.offered_starts_at = c.offered_starts_at
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.clinic_id = c.clinic_id AND a.doctor_id = c.offered_doctor_id
			  AND a.status IN ('pending', 'confirmed')
			  AND a.starts_at < c.offered_ends_at AND a.ends_at > c.offered_starts_at
		  )
		  AND EXISTS (
			SELECT 1 FROM waitlist_entries w
			WHERE w.clinic_id = c.clinic_id AND w.specialty_id = c.specialty_id AND w.status = 'waiting'
			  AND (w.doctor_id IS NULL OR w.doctor_id = c.offered_doctor_id)
			  AND w.window_start <= c.offered_starts_at AND w.window_end > c.offered_starts_at
		  )
		ORDER BY c.offered_starts_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled slots: %w", err)
	}
	defer rows.Close()

	var out []appointment.FreedSlot
	for rows.Next() {
		var s appointment.FreedSlot
		if err := rows.Scan(&s.ClinicID, &s.DoctorID, &s.SpecialtyID, &s.StartsAt, &s.EndsAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PgRepository) FindOfferByPhone(ctx context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE clinic_id = $1 AND patient_phone = $2
		  AND status = 'offered' AND offer_expires_at > $3
		ORDER BY offer_expires_at
		LIMIT 1
	`, clinicID, phone, now)
	return scanEntry(row)
}
