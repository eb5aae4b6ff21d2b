package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRecorder struct {
	db db.DB
}

func NewPgRecorder(pool db.DB) *PgRecorder {
	return &PgRecorder{db: pool}
}

func (r *PgRecorder) Record(ctx context.Context, ev Event) error {
	var payload []byte
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = data
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, clinic_id, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.Type, ev.ClinicID, ev.AppointmentID, payload, nullableTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
