package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	db db.DB
}

func NewPgRepository(pool db.DB) *PgRepository {
	return &PgRepository{db: pool}
}

var appointmentFields = []string{
	"id", "clinic_id", "doctor_id", "specialty_id",
	"patient_name", "patient_phone", "patient_email", "patient_cpf",
	"starts_at", "ends_at", "slot_minutes", "status", "confirmation_token",
	"confirmed_by", "confirmed_at", "cancelled_by", "cancellation_reason", "cancelled_at",
	"completed_at", "no_show_at", "source", "waitlist_entry_id", "created_at", "updated_at",
}

var appointmentColumns = strings.Join(appointmentFields, ", ")

// Helpers

func scanAppointment(row pgx.Row, extra ...any) (*Appointment, error) {
	var (
		a                        Appointment
		email, cpf, reason       *string
		confirmedBy, cancelledBy *string
	)

	dest := []any{
		&a.ID, &a.ClinicID, &a.DoctorID, &a.SpecialtyID,
		&a.Patient.Name, &a.Patient.Phone, &email, &cpf,
		&a.StartsAt, &a.EndsAt, &a.SlotMinutes, &a.Status, &a.ConfirmationToken,
		&confirmedBy, &a.ConfirmedAt, &cancelledBy, &reason, &a.CancelledAt,
		&a.CompletedAt, &a.NoShowAt, &a.Source, &a.WaitlistEntryID, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Patient.Email = deref(email)
	a.Patient.CPF = deref(cpf)
	a.CancellationReason = deref(reason)
	a.ConfirmedBy = actorPtr(confirmedBy)
	a.CancelledBy = actorPtr(cancelledBy)
	return &a, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var calendarID *string

	err := row.Scan(&d.ID, &d.ClinicID, &d.SpecialtyID, &d.Name, &d.SlotMinutes, &d.Timezone, &calendarID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("doctor: %w", ErrNotFound)
		}
		return nil, err
	}
	d.ExternalCalendarID = deref(calendarID)
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func actorPtr(s *string) *Actor {
	if s == nil {
		return nil
	}
	a := Actor(*s)
	return &a
}

func isSlotConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// unique_violation on the active-slot index, exclusion_violation on overlap
	return pgErr.Code == "23505" || pgErr.Code == "23P01"
}

// Interface methods

func (r *PgRepository) GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, specialty_id, name, slot_minutes, timezone, external_calendar_id
		FROM doctors
		WHERE clinic_id = $1 AND id = $2 AND active
	`, clinicID, doctorID)
	return scanDoctor(row)
}

func (r *PgRepository) GetSpecialty(ctx context.Context, clinicID, specialtyID uuid.UUID) (*Specialty, error) {
	var s Specialty
	err := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, name
		FROM specialties
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, specialtyID).Scan(&s.ID, &s.ClinicID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("specialty: %w", ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) GetSchedule(ctx context.Context, clinicID, doctorID uuid.UUID, fromDay, toDay time.Time) (*Schedule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.weekday, h.start_minute, h.end_minute
		FROM doctor_working_hours h
		JOIN doctors d ON d.id = h.doctor_id
		WHERE d.clinic_id = $1 AND h.doctor_id = $2
		ORDER BY h.weekday, h.start_minute
	`, clinicID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query working hours: %w", err)
	}
	var sched Schedule
	for rows.Next() {
		var w WorkingWindow
		var weekday int16
		if err := rows.Scan(&weekday, &w.StartMinute, &w.EndMinute); err != nil {
			rows.Close()
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		sched.Weekly = append(sched.Weekly, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT e.day, e.closed, e.start_minute, e.end_minute
		FROM doctor_schedule_exceptions e
		JOIN doctors d ON d.id = e.doctor_id
		WHERE d.clinic_id = $1 AND e.doctor_id = $2
		  AND e.day BETWEEN $3 AND $4
		ORDER BY e.day, e.start_minute
	`, clinicID, doctorID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query schedule exceptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e ScheduleException
		if err := rows.Scan(&e.Day, &e.Closed, &e.StartMinute, &e.EndMinute); err != nil {
			return nil, err
		}
		sched.Exceptions = append(sched.Exceptions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (r *PgRepository) ListActiveIntervals(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]calendar.Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM appointments
		WHERE clinic_id = $1 AND doctor_id = $2
		  AND status IN ('pending', 'confirmed')
		  AND starts_at < $4 AND ends_at > $3
		ORDER BY starts_at
	`, clinicID, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query active appointments: %w", err)
	}
	defer rows.Close()

	var result []calendar.Interval
	for rows.Next() {
		var iv calendar.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, specialty_id,
			patient_name, patient_phone, patient_email, patient_cpf,
			starts_at, ends_at, slot_minutes, status, confirmation_token,
			source, waitlist_entry_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT DO NOTHING
		RETURNING `+appointmentColumns,
		appt.ID, appt.ClinicID, appt.DoctorID, appt.SpecialtyID,
		appt.Patient.Name, appt.Patient.Phone, nullable(appt.Patient.Email), nullable(appt.Patient.CPF),
		appt.StartsAt, appt.EndsAt, appt.SlotMinutes, appt.Status, appt.ConfirmationToken,
		appt.Source, appt.WaitlistEntryID, appt.CreatedAt,
	)

	created, err := scanAppointment(row)
	switch {
	case errors.Is(err, ErrNotFound):
		// DO NOTHING swallowed the conflict and returned no row.
		return nil, ErrSlotConflict
	case isSlotConstraintViolation(err):
		return nil, ErrSlotConflict
	case err != nil:
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	var doctorName string
	row := r.db.QueryRow(ctx, `
		SELECT `+qualified("a")+`, d.name
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.clinic_id = $1 AND a.id = $2
	`, clinicID, id)
	appt, err := scanAppointment(row, &doctorName)
	if err != nil {
		return nil, err
	}
	appt.DoctorName = doctorName
	return appt, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, clinicID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	var set string
	args := []any{clinicID, id, from, change.To, change.At}
	switch change.To {
	case StatusConfirmed:
		set = "confirmed_by = $6, confirmed_at = $5"
		args = append(args, string(change.Actor))
	case StatusCancelled:
		set = "cancelled_by = $6, cancellation_reason = $7, cancelled_at = $5"
		args = append(args, string(change.Actor), nullable(change.Reason))
	case StatusCompleted:
		set = "completed_at = $5"
	case StatusNoShow:
		set = "no_show_at = $5"
	default:
		return nil, fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, change.To)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4,
		    updated_at = $5,
		    `+set+`
		WHERE clinic_id = $1
		  AND id = $2
		  AND status = $3
		RETURNING `+appointmentColumns, args...)

	return scanAppointment(row)
}

func (r *PgRepository) FindNextActiveByPhone(ctx context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Appointment, error) {
	var doctorName string
	row := r.db.QueryRow(ctx, `
		SELECT `+qualified("a")+`, d.name
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.clinic_id = $1
		  AND a.patient_phone = $2
		  AND a.status IN ('pending', 'confirmed')
		  AND a.starts_at > $3
		ORDER BY a.starts_at
		LIMIT 1
	`, clinicID, phone, now)
	appt, err := scanAppointment(row, &doctorName)
	if err != nil {
		return nil, err
	}
	appt.DoctorName = doctorName
	return appt, nil
}

func (r *PgRepository) ListEndedConfirmed(ctx context.Context, endedBefore time.Time, limit int) ([]AppointmentRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT clinic_id, id
		FROM appointments
		WHERE status = 'confirmed' AND ends_at <= $1
		ORDER BY ends_at
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list ended appointments: %w", err)
	}
	defer rows.Close()

	var out []AppointmentRef
	for rows.Next() {
		var ref AppointmentRef
		if err := rows.Scan(&ref.ClinicID, &ref.ID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// qualified prefixes every appointment column with a table alias.
func qualified(alias string) string {
	cols := make([]string, len(appointmentFields))
	for i, f := range appointmentFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}
