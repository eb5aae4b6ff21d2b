package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]*Job{}}
}

func (r *memRepo) Insert(_ context.Context, jobs []Job) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range jobs {
		if r.find(j.AppointmentID, j.Kind) != nil {
			continue
		}
		cp := j
		r.jobs[j.ID] = &cp
		n++
	}
	return n, nil
}

func (r *memRepo) find(appointmentID uuid.UUID, kind string) *Job {
	for _, j := range r.jobs {
		if j.AppointmentID == appointmentID && j.Kind == kind {
			return j
		}
	}
	return nil
}

func (r *memRepo) CancelPending(_ context.Context, clinicID, appointmentID uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.ClinicID == clinicID && j.AppointmentID == appointmentID && j.Status == JobPending {
			j.Status = JobCancelled
			j.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*Job
	for _, j := range r.jobs {
		if j.Status == JobPending && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	slices.SortFunc(due, func(a, b *Job) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		j.Status = JobSending
		j.Attempts++
		claimed := now
		j.ClaimedAt = &claimed
		out = append(out, *j)
	}
	return out, nil
}

func (r *memRepo) finish(id uuid.UUID, apply func(j *Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != JobSending {
		return errNotClaimed
	}
	apply(j)
	return nil
}

func (r *memRepo) MarkDelivered(_ context.Context, id uuid.UUID, channel, providerMessageID string, at time.Time) error {
	return r.finish(id, func(j *Job) {
		j.Status = JobDelivered
		j.Channel = channel
		j.ProviderMessageID = providerMessageID
		j.DeliveredAt = &at
	})
}

func (r *memRepo) MarkRetry(_ context.Context, id uuid.UUID, nextAttemptAt time.Time, lastErr string, _ time.Time) error {
	return r.finish(id, func(j *Job) {
		j.Status = JobPending
		j.NextAttemptAt = nextAttemptAt
		j.LastError = lastErr
		j.ClaimedAt = nil
	})
}

func (r *memRepo) MarkFailed(_ context.Context, id uuid.UUID, lastErr string, _ time.Time) error {
	return r.finish(id, func(j *Job) {
		j.Status = JobFailed
		j.LastError = lastErr
	})
}

func (r *memRepo) MarkCancelled(_ context.Context, id uuid.UUID, reason string, _ time.Time) error {
	return r.finish(id, func(j *Job) {
		j.Status = JobCancelled
		j.LastError = reason
	})
}

func (r *memRepo) Release(_ context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		j, ok := r.jobs[id]
		if !ok || j.Status != JobSending {
			continue
		}
		j.Status = JobPending
		j.Attempts = max(j.Attempts-1, 0)
		j.ClaimedAt = nil
		j.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *memRepo) FailStale(_ context.Context, claimedBefore, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.Status == JobSending && j.ClaimedAt.Before(claimedBefore) {
			j.Status = JobFailed
			j.LastError = "delivery outcome unknown: claim timed out"
			n++
		}
	}
	return n, nil
}

func (r *memRepo) job(appointmentID uuid.UUID, kind string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j := r.find(appointmentID, kind); j != nil {
		return *j
	}
	return Job{}
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type fakeSource struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
	err   error
}

func (s *fakeSource) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.appts[id]
	if !ok || a.ClinicID != clinicID {
		return nil, appointment.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *fakeSource) Links(appt *appointment.Appointment) appointment.LinkSet {
	base := fmt.Sprintf("https://clinic.test/public/clinics/%s/appointments/%s", appt.ClinicID, appt.ID)
	return appointment.LinkSet{ConfirmURL: base + "/confirm?token=t", CancelURL: base + "/cancel?token=t"}
}

func (s *fakeSource) setStatus(id uuid.UUID, status appointment.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[id].Status = status
}

type sentMessage struct {
	to         notify.Contact
	templateID string
	vars       map[string]any
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sentMessage
	errs   []error
	onSend func(n int)
}

func (m *fakeMessenger) Send(_ context.Context, to notify.Contact, templateID string, vars map[string]any) (notify.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, templateID: templateID, vars: vars})
	if m.onSend != nil {
		m.onSend(len(m.sent))
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return notify.Receipt{}, err
		}
	}
	return notify.Receipt{Channel: notify.ChannelWhatsApp, ProviderMessageID: fmt.Sprintf("wamid.%d", len(m.sent))}, nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Record(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

var (
	// The appointment starts at 2025-03-01 10:00 and is booked a day and a half earlier.
	apptStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	bookedAt  = time.Date(2025, 2, 27, 20, 0, 0, 0, time.UTC)

	errGatewayDown = &notify.DeliveryError{Channel: notify.ChannelWhatsApp, Err: errors.New("gateway 503")}
	errBadNumber   = &notify.DeliveryError{Channel: notify.ChannelWhatsApp, Permanent: true, Err: errors.New("invalid recipient")}
)

type fixture struct {
	repo      *memRepo
	source    *fakeSource
	messenger *fakeMessenger
	events    *recordedEvents
	sched     *Scheduler
	now       time.Time
	appt      *appointment.Appointment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	appt := &appointment.Appointment{
		ID:         uuid.New(),
		ClinicID:   uuid.New(),
		DoctorID:   uuid.New(),
		DoctorName: "Dr. X",
		Patient:    appointment.Patient{Name: "Maria", Phone: "+5511999990001"},
		StartsAt:   apptStart,
		EndsAt:     apptStart.Add(time.Hour),
		Status:     appointment.StatusPending,
	}
	f := &fixture{
		repo:      newMemRepo(),
		source:    &fakeSource{appts: map[uuid.UUID]*appointment.Appointment{appt.ID: appt}},
		messenger: &fakeMessenger{},
		events:    &recordedEvents{},
		now:       bookedAt,
		appt:      appt,
	}
	cfg := config.Config{
		BatchSize: 50,
		Reminders: config.ReminderConfig{
			Offsets:         []time.Duration{24 * time.Hour, 2 * time.Hour},
			MaxAttempts:     3,
			BaseBackoff:     time.Minute,
			MaxBackoff:      10 * time.Minute,
			DeliveryTimeout: time.Second,
			ClaimTimeout:    15 * time.Minute,
		},
	}
	f.sched = NewScheduler(f.repo, f.source, f.messenger, f.events, nil, logging.Discard(), cfg)
	f.sched.now = func() time.Time { return f.now }
	return f
}
