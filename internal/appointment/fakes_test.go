package appointment

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// memRepo enforces the active-slot exclusivity under one mutex, standing in
// for the partial unique index.
type memRepo struct {
	mu          sync.Mutex
	doctors     map[uuid.UUID]Doctor
	specialties map[uuid.UUID]Specialty
	schedules   map[uuid.UUID]Schedule
	appts       map[uuid.UUID]*Appointment

	beforeUpdate func(id uuid.UUID)
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:     map[uuid.UUID]Doctor{},
		specialties: map[uuid.UUID]Specialty{},
		schedules:   map[uuid.UUID]Schedule{},
		appts:       map[uuid.UUID]*Appointment{},
	}
}

func (r *memRepo) GetDoctor(_ context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[doctorID]
	if !ok || d.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *memRepo) GetSpecialty(_ context.Context, clinicID, specialtyID uuid.UUID) (*Specialty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.specialties[specialtyID]
	if !ok || s.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *memRepo) GetSchedule(_ context.Context, clinicID, doctorID uuid.UUID, fromDay, toDay time.Time) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.doctors[doctorID]; !ok || d.ClinicID != clinicID {
		return &Schedule{}, nil
	}
	sched := r.schedules[doctorID]
	out := Schedule{Weekly: sched.Weekly}
	for _, e := range sched.Exceptions {
		if !e.Day.Before(fromDay) && !e.Day.After(toDay) {
			out.Exceptions = append(out.Exceptions, e)
		}
	}
	return &out, nil
}

func (r *memRepo) ListActiveIntervals(_ context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]calendar.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []calendar.Interval
	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.DoctorID == doctorID && a.Status.Active() &&
			a.StartsAt.Before(to) && a.EndsAt.After(from) {
			out = append(out, calendar.Interval{Start: a.StartsAt, End: a.EndsAt})
		}
	}
	return out, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ClinicID == appt.ClinicID && a.DoctorID == appt.DoctorID && a.Status.Active() &&
			a.StartsAt.Before(appt.EndsAt) && appt.StartsAt.Before(a.EndsAt) {
			return nil, ErrSlotConflict
		}
	}
	cp := *appt
	r.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	out := *a
	out.DoctorName = r.doctors[a.DoctorID].Name
	return &out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, clinicID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	if r.beforeUpdate != nil {
		r.beforeUpdate(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.ClinicID != clinicID || a.Status != from {
		return nil, ErrNotFound
	}
	at := change.At
	actor := change.Actor
	a.Status = change.To
	a.UpdatedAt = at
	switch change.To {
	case StatusConfirmed:
		a.ConfirmedBy, a.ConfirmedAt = &actor, &at
	case StatusCancelled:
		a.CancelledBy, a.CancelledAt = &actor, &at
		a.CancellationReason = change.Reason
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusNoShow:
		a.NoShowAt = &at
	}
	out := *a
	return &out, nil
}

func (r *memRepo) FindNextActiveByPhone(_ context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Appointment
	for _, a := range r.appts {
		if a.ClinicID != clinicID || a.Patient.Phone != phone || !a.Status.Active() || !a.StartsAt.After(now) {
			continue
		}
		if best == nil || a.StartsAt.Before(best.StartsAt) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

func (r *memRepo) ListEndedConfirmed(_ context.Context, endedBefore time.Time, limit int) ([]AppointmentRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ended []*Appointment
	for _, a := range r.appts {
		if a.Status == StatusConfirmed && !a.EndsAt.After(endedBefore) {
			ended = append(ended, a)
		}
	}
	slices.SortFunc(ended, func(a, b *Appointment) int { return a.EndsAt.Compare(b.EndsAt) })
	out := make([]AppointmentRef, 0, len(ended))
	for _, a := range ended {
		if len(out) == limit {
			break
		}
		out = append(out, AppointmentRef{ClinicID: a.ClinicID, ID: a.ID})
	}
	return out, nil
}

func (r *memRepo) setStatus(id uuid.UUID, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[id].Status = st
}

type fakeCalendar struct {
	busy []calendar.Interval
	err  error
}

func (f *fakeCalendar) ListBusyIntervals(context.Context, string, time.Time, time.Time) ([]calendar.Interval, error) {
	return f.busy, f.err
}

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) Record(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
	return nil
}

func (r *recordedEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fakeReminders struct {
	mu          sync.Mutex
	scheduled   []uuid.UUID
	cancelled   []uuid.UUID
	scheduleErr error
}

func (f *fakeReminders) Schedule(_ context.Context, appt *Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, appt.ID)
	return f.scheduleErr
}

func (f *fakeReminders) CancelForAppointment(_ context.Context, _, appointmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

type freedRecorder struct {
	mu    sync.Mutex
	slots []FreedSlot
}

func (f *freedRecorder) OnSlotFreed(_ context.Context, slot FreedSlot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, slot)
}

// fixture is one clinic with a cardiologist working 09:00-12:00 UTC every day,
// plus a second clinic used for isolation checks.
type fixture struct {
	svc       *Service
	repo      *memRepo
	cal       *fakeCalendar
	events    *recordedEvents
	reminders *fakeReminders
	freed     *freedRecorder

	clinicID    uuid.UUID
	doctorID    uuid.UUID
	specialtyID uuid.UUID

	otherClinicID    uuid.UUID
	otherDoctorID    uuid.UUID
	otherSpecialtyID uuid.UUID
}

var (
	testDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	testNow = time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)
)

func at(hour, minute int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func everyDay(startMinute, endMinute int) []WorkingWindow {
	var out []WorkingWindow
	for d := time.Sunday; d <= time.Saturday; d++ {
		out = append(out, WorkingWindow{Weekday: d, StartMinute: startMinute, EndMinute: endMinute})
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:             newMemRepo(),
		cal:              &fakeCalendar{},
		events:           &recordedEvents{},
		reminders:        &fakeReminders{},
		freed:            &freedRecorder{},
		clinicID:         uuid.New(),
		doctorID:         uuid.New(),
		specialtyID:      uuid.New(),
		otherClinicID:    uuid.New(),
		otherDoctorID:    uuid.New(),
		otherSpecialtyID: uuid.New(),
	}
	f.repo.specialties[f.specialtyID] = Specialty{ID: f.specialtyID, ClinicID: f.clinicID, Name: "Cardiology"}
	f.repo.doctors[f.doctorID] = Doctor{
		ID: f.doctorID, ClinicID: f.clinicID, SpecialtyID: f.specialtyID,
		Name: "Dr. X", SlotMinutes: 60, Timezone: "UTC", ExternalCalendarID: "drx@calendar",
	}
	f.repo.schedules[f.doctorID] = Schedule{Weekly: everyDay(9*60, 12*60)}

	f.repo.specialties[f.otherSpecialtyID] = Specialty{ID: f.otherSpecialtyID, ClinicID: f.otherClinicID, Name: "Dermatology"}
	f.repo.doctors[f.otherDoctorID] = Doctor{
		ID: f.otherDoctorID, ClinicID: f.otherClinicID, SpecialtyID: f.otherSpecialtyID,
		Name: "Dr. Y", SlotMinutes: 30, Timezone: "UTC",
	}
	f.repo.schedules[f.otherDoctorID] = Schedule{Weekly: everyDay(9*60, 12*60)}

	cfg := config.Config{
		PublicBaseURL: "https://clinic.example",
		Scheduling:    config.SchedulingConfig{NoShowGrace: 15 * time.Minute, MaxRangeDays: 62},
	}
	f.svc = NewService(f.repo, f.cal, f.events, nil, logging.Discard(), cfg)
	f.svc.now = func() time.Time { return testNow }
	f.svc.SetReminderScheduler(f.reminders)
	f.svc.SetSlotFreedHandler(f.freed)
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.svc.now = func() time.Time { return now }
}

func (f *fixture) book(t *testing.T, start time.Time, phone string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.request(start, phone))
	if err != nil {
		t.Fatalf("book %s: %v", start, err)
	}
	return appt
}

func (f *fixture) request(start time.Time, phone string) BookingRequest {
	return BookingRequest{
		ClinicID:    f.clinicID,
		DoctorID:    f.doctorID,
		SpecialtyID: f.specialtyID,
		StartsAt:    start,
		Patient:     Patient{Name: "Maria Silva", Phone: phone},
	}
}

var errCalendarDown = errors.New("calendar down")

func busyAt(start time.Time, d time.Duration) calendar.Interval {
	return calendar.Interval{Start: start, End: start.Add(d)}
}
