package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type SlotQuery struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	From        time.Time
	To          time.Time
	SlotMinutes int  // 0 uses the doctor's configured duration
	IncludePast bool // read-only calendar views
}

// ComputeSlots returns the free slots of a doctor within [From, To).
func (s *Service) ComputeSlots(ctx context.Context, q SlotQuery) (*SlotSet, error) {
	switch {
	case q.ClinicID == uuid.Nil:
		return nil, invalid("clinic_id", "required")
	case q.DoctorID == uuid.Nil:
		return nil, invalid("doctor_id", "required")
	case q.From.IsZero() || q.To.IsZero():
		return nil, invalid("range", "from and to are required")
	case !q.To.After(q.From):
		return nil, invalid("range", "to must be after from")
	case q.SlotMinutes < 0:
		return nil, invalid("slot_minutes", "must not be negative")
	}
	if maxDays := s.cfg.Scheduling.MaxRangeDays; maxDays > 0 && q.To.Sub(q.From) > time.Duration(maxDays)*24*time.Hour {
		return nil, invalid("range", fmt.Sprintf("at most %d days", maxDays))
	}

	doctor, err := s.repo.GetDoctor(ctx, q.ClinicID, q.DoctorID)
	if err != nil {
		return nil, err
	}
	minutes := q.SlotMinutes
	if minutes == 0 {
		minutes = doctor.SlotMinutes
	}
	return s.freeSlots(ctx, doctor, q.From, q.To, minutes, q.IncludePast)
}

func (s *Service) freeSlots(ctx context.Context, doctor *Doctor, from, to time.Time, minutes int, includePast bool) (*SlotSet, error) {
	loc := doctor.Location()
	length := time.Duration(minutes) * time.Minute

	fromLocal, toLocal := from.In(loc), to.Add(-time.Nanosecond).In(loc)
	sched, err := s.repo.GetSchedule(ctx, doctor.ClinicID, doctor.ID,
		time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), 0, 0, 0, 0, time.UTC),
		time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day(), 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	grid := buildGrid(*sched, loc, from, to, length)
	if len(grid) == 0 {
		return &SlotSet{}, nil
	}
	windowStart, windowEnd := grid[0].Start, grid[len(grid)-1].End

	busy, err := s.repo.ListActiveIntervals(ctx, doctor.ClinicID, doctor.ID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	busy = append(busy, s.externalBusy(ctx, doctor, windowStart, windowEnd)...)

	var notBefore time.Time
	if !includePast {
		notBefore = s.now()
	}
	return &SlotSet{slots: subtractBusy(grid, busy, notBefore)}, nil
}

// externalBusy never fails: calendar outages degrade to no external data.
func (s *Service) externalBusy(ctx context.Context, doctor *Doctor, from, to time.Time) []calendar.Interval {
	if doctor.ExternalCalendarID == "" {
		return nil
	}
	busy, err := s.calendar.ListBusyIntervals(ctx, doctor.ExternalCalendarID, from, to)
	if err != nil {
		s.metrics.ObserveCalendarError()
		s.logger.Warn("calendar busy lookup failed, ignoring external busy time",
			"clinic_id", doctor.ClinicID, "doctor_id", doctor.ID, "error", err)
		return nil
	}
	return busy
}
