package waitlist

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[uuid.UUID]*Entry{}}
}

func (r *memRepo) Create(_ context.Context, e *Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[e.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) Get(_ context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.ClinicID != clinicID {
		return nil, appointment.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (r *memRepo) sorted(keep func(*Entry) bool) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func (r *memRepo) List(_ context.Context, clinicID uuid.UUID, f Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(e *Entry) bool {
		return e.ClinicID == clinicID && (f.Status == "" || e.Status == f.Status)
	}), nil
}

func eligible(e *Entry, slot appointment.FreedSlot) bool {
	return e.ClinicID == slot.ClinicID && e.SpecialtyID == slot.SpecialtyID && e.Status == StatusWaiting &&
		(e.DoctorID == nil || *e.DoctorID == slot.DoctorID) &&
		!e.WindowStart.After(slot.StartsAt) && e.WindowEnd.After(slot.StartsAt)
}

func (r *memRepo) NextCandidate(_ context.Context, slot appointment.FreedSlot) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.sorted(func(e *Entry) bool { return eligible(e, slot) })
	if len(list) == 0 {
		return nil, appointment.ErrNotFound
	}
	return &list[0], nil
}

func (r *memRepo) OpenOfferExists(_ context.Context, slot appointment.FreedSlot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openOffer(slot), nil
}

func (r *memRepo) openOffer(slot appointment.FreedSlot) bool {
	for _, e := range r.entries {
		if e.ClinicID == slot.ClinicID && e.Status == StatusOffered && e.OfferedDoctorID != nil &&
			*e.OfferedDoctorID == slot.DoctorID && e.OfferedStartsAt.Equal(slot.StartsAt) {
			return true
		}
	}
	return false
}

func (r *memRepo) ListStalledSlots(_ context.Context, now time.Time, limit int) ([]appointment.FreedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[appointment.FreedSlot]bool{}
	var out []appointment.FreedSlot
	for _, c := range r.entries {
		if (c.Status != StatusDeclined && c.Status != StatusExpired) || c.OfferedStartsAt == nil || !c.OfferedStartsAt.After(now) {
			continue
		}
		slot := appointment.FreedSlot{
			ClinicID:    c.ClinicID,
			DoctorID:    *c.OfferedDoctorID,
			SpecialtyID: c.SpecialtyID,
			StartsAt:    *c.OfferedStartsAt,
			EndsAt:      *c.OfferedEndsAt,
		}
		if seen[slot] || r.openOffer(slot) {
			continue
		}
		for _, w := range r.entries {
			if eligible(w, slot) {
				seen[slot] = true
				out = append(out, slot)
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) cas(clinicID, id uuid.UUID, from Status, apply func(e *Entry)) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.ClinicID != clinicID || e.Status != from {
		return nil, appointment.ErrNotFound
	}
	apply(e)
	out := *e
	return &out, nil
}

func (r *memRepo) MarkOffered(_ context.Context, clinicID, id uuid.UUID, offer Offer, at time.Time) (*Entry, error) {
	return r.cas(clinicID, id, StatusWaiting, func(e *Entry) {
		e.Status = StatusOffered
		e.OfferToken = offer.Token
		e.OfferedDoctorID = &offer.DoctorID
		e.OfferedStartsAt = &offer.StartsAt
		e.OfferedEndsAt = &offer.EndsAt
		e.OfferExpiresAt = &offer.ExpiresAt
		e.UpdatedAt = at
	})
}

func (r *memRepo) MarkAccepted(_ context.Context, clinicID, id, appointmentID uuid.UUID, at time.Time) (*Entry, error) {
	return r.cas(clinicID, id, StatusOffered, func(e *Entry) {
		e.Status = StatusAccepted
		e.AppointmentID = &appointmentID
		e.UpdatedAt = at
	})
}

func (r *memRepo) CloseOffer(_ context.Context, clinicID, id uuid.UUID, to Status, at time.Time) (*Entry, error) {
	return r.cas(clinicID, id, StatusOffered, func(e *Entry) {
		e.Status = to
		e.UpdatedAt = at
	})
}

func (r *memRepo) Requeue(_ context.Context, clinicID, id uuid.UUID, at time.Time) (*Entry, error) {
	return r.cas(clinicID, id, StatusOffered, func(e *Entry) {
		e.Status = StatusWaiting
		e.OfferToken = ""
		e.OfferedDoctorID, e.OfferedStartsAt, e.OfferedEndsAt, e.OfferExpiresAt = nil, nil, nil, nil
		e.UpdatedAt = at
	})
}

func (r *memRepo) ListLapsedOffers(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(e *Entry) bool {
		return e.Status == StatusOffered && !e.OfferExpiresAt.After(now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) FindOfferByPhone(_ context.Context, clinicID uuid.UUID, phone string, now time.Time) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ClinicID == clinicID && e.Patient.Phone == phone && e.Status == StatusOffered && e.OfferExpiresAt.After(now) {
			out := *e
			return &out, nil
		}
	}
	return nil, appointment.ErrNotFound
}

func (r *memRepo) status(id uuid.UUID) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id].Status
}

type fakeBooker struct {
	mu       sync.Mutex
	taken    map[time.Time]bool
	doctors  map[uuid.UUID]appointment.Doctor
	requests []appointment.BookingRequest
}

func (b *fakeBooker) GetDoctor(_ context.Context, clinicID, doctorID uuid.UUID) (*appointment.Doctor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.doctors[doctorID]
	if !ok || d.ClinicID != clinicID {
		return nil, appointment.ErrNotFound
	}
	return &d, nil
}

func (b *fakeBooker) Book(_ context.Context, req appointment.BookingRequest) (*appointment.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taken[req.StartsAt] {
		return nil, appointment.ErrSlotConflict
	}
	b.taken[req.StartsAt] = true
	b.requests = append(b.requests, req)
	return &appointment.Appointment{
		ID:              uuid.New(),
		ClinicID:        req.ClinicID,
		DoctorID:        req.DoctorID,
		StartsAt:        req.StartsAt,
		Status:          appointment.StatusPending,
		Source:          req.Source,
		WaitlistEntryID: req.WaitlistEntryID,
	}, nil
}

func (b *fakeBooker) SlotTaken(_ context.Context, _, _ uuid.UUID, startsAt, _ time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.taken[startsAt], nil
}

func (b *fakeBooker) take(start time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taken[start] = true
}

type sentMessage struct {
	to       notify.Contact
	template string
	vars     map[string]any
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	errs []error // consumed one per call
}

func (m *fakeMessenger) Send(_ context.Context, to notify.Contact, templateID string, vars map[string]any) (notify.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, template: templateID, vars: vars})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return notify.Receipt{}, err
		}
	}
	return notify.Receipt{Channel: notify.ChannelWhatsApp, ProviderMessageID: "wamid.1"}, nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return fmt.Errorf("slot scan: %w", redisclient.ErrLockNotAcquired)
}

// contendedLocker reports the lock as held for the first busy calls.
type contendedLocker struct {
	mu    sync.Mutex
	busy  int
	calls int
}

func (l *contendedLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.calls++
	held := l.busy > 0
	if held {
		l.busy--
	}
	l.mu.Unlock()
	if held {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fixture struct {
	engine    *Engine
	repo      *memRepo
	booker    *fakeBooker
	messenger *fakeMessenger
	now       time.Time

	clinicID    uuid.UUID
	doctorID    uuid.UUID
	specialtyID uuid.UUID
	slot        appointment.FreedSlot
}

var slotStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:        newMemRepo(),
		booker:      &fakeBooker{taken: map[time.Time]bool{}, doctors: map[uuid.UUID]appointment.Doctor{}},
		messenger:   &fakeMessenger{},
		now:         time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC),
		clinicID:    uuid.New(),
		doctorID:    uuid.New(),
		specialtyID: uuid.New(),
	}
	f.slot = appointment.FreedSlot{
		ClinicID:    f.clinicID,
		DoctorID:    f.doctorID,
		SpecialtyID: f.specialtyID,
		StartsAt:    slotStart,
		EndsAt:      slotStart.Add(time.Hour),
	}
	f.booker.doctors[f.doctorID] = appointment.Doctor{ID: f.doctorID, ClinicID: f.clinicID, SpecialtyID: f.specialtyID}
	cfg := config.Config{
		PublicBaseURL: "https://clinic.example",
		BatchSize:     50,
		Waitlist:      config.WaitlistConfig{OfferWindow: 30 * time.Minute, NotifyAttempts: 3},
		Reminders:     config.ReminderConfig{DeliveryTimeout: time.Second},
	}
	f.engine = NewEngine(f.repo, f.booker, f.messenger, nil, nil, nil, logging.Discard(), cfg)
	f.engine.now = func() time.Time { return f.now }
	f.engine.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	f.engine.lockBackoff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5) }
	return f
}

// addEntry stores a waiting entry for the fixture's doctor whose window covers the slot.
func (f *fixture) addEntry(t *testing.T, phone string, createdAt time.Time, mutate ...func(e *Entry)) *Entry {
	t.Helper()
	doctorID := f.doctorID
	e := &Entry{
		ID:          uuid.New(),
		ClinicID:    f.clinicID,
		DoctorID:    &doctorID,
		SpecialtyID: f.specialtyID,
		WindowStart: slotStart.Add(-2 * time.Hour),
		WindowEnd:   slotStart.Add(6 * time.Hour),
		Patient:     appointment.Patient{Name: "Patient " + phone, Phone: phone},
		Status:      StatusWaiting,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	for _, m := range mutate {
		m(e)
	}
	_, err := f.repo.Create(context.Background(), e)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return e
}
