// Package waitlist keeps standing requests for earlier slots and offers freed
// slots to them one candidate at a time.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// maxCandidateSkips bounds how many entries one promotion may lose to
// concurrent changes before giving up on the slot.
const maxCandidateSkips = 10

// Booker is the part of the booking coordinator the engine needs.
type Booker interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*appointment.Doctor, error)
	SlotTaken(ctx context.Context, clinicID, doctorID uuid.UUID, startsAt, endsAt time.Time) (bool, error)
}

type AddRequest struct {
	ClinicID    uuid.UUID
	DoctorID    *uuid.UUID
	SpecialtyID uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	Patient     appointment.Patient
	Priority    int
}

type AcceptResult struct {
	Entry          *Entry
	Appointment    *appointment.Appointment
	AlreadyApplied bool
}

// Engine keeps waitlist entries and moves freed slots through them: one open
// offer per slot, handed to the next candidate when it is declined or lapses.
type Engine struct {
	repo        Repository
	booker      Booker
	messenger   notify.Messenger
	locker      redisclient.Locker
	events      events.Recorder
	metrics     *metrics.SchedulingMetrics
	logger      *slog.Logger
	cfg         config.Config
	now         func() time.Time
	backoff     func() backoff.BackOff
	lockBackoff func() backoff.BackOff

	wg sync.WaitGroup
}

func NewEngine(repo Repository, booker Booker, messenger notify.Messenger, locker redisclient.Locker,
	rec events.Recorder, m *metrics.SchedulingMetrics, logger *slog.Logger, cfg config.Config) *Engine {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if rec == nil {
		rec = events.Nop{}
	}
	return &Engine{
		repo:      repo,
		booker:    booker,
		messenger: messenger,
		locker:    locker,
		events:    rec,
		metrics:   m,
		logger:    logging.OrDefault(logger).With("component", "waitlist"),
		cfg:       cfg,
		now:       time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		lockBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// Add stores a waiting entry. A preferred doctor must be an active doctor of
// the clinic offering the requested specialty.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*Entry, error) {
	switch {
	case req.ClinicID == uuid.Nil:
		return nil, &appointment.ValidationError{Field: "clinic_id", Reason: "required"}
	case req.SpecialtyID == uuid.Nil:
		return nil, &appointment.ValidationError{Field: "specialty_id", Reason: "required"}
	case req.WindowStart.IsZero() || req.WindowEnd.IsZero():
		return nil, &appointment.ValidationError{Field: "window", Reason: "start and end are required"}
	case !req.WindowEnd.After(req.WindowStart):
		return nil, &appointment.ValidationError{Field: "window", Reason: "end must be after start"}
	case !req.WindowEnd.After(e.now()):
		return nil, &appointment.ValidationError{Field: "window", Reason: "window is already over"}
	}
	if req.DoctorID != nil && *req.DoctorID == uuid.Nil {
		req.DoctorID = nil
	}
	if err := appointment.ValidatePatient(&req.Patient); err != nil {
		return nil, err
	}
	if req.DoctorID != nil {
		doctor, err := e.booker.GetDoctor(ctx, req.ClinicID, *req.DoctorID)
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, fmt.Errorf("doctor: %w", appointment.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if doctor.SpecialtyID != req.SpecialtyID {
			return nil, &appointment.ValidationError{Field: "specialty_id", Reason: "doctor does not offer this specialty"}
		}
	}

	now := e.now().UTC()
	return e.repo.Create(ctx, &Entry{
		ID:          uuid.New(),
		ClinicID:    req.ClinicID,
		DoctorID:    req.DoctorID,
		SpecialtyID: req.SpecialtyID,
		WindowStart: req.WindowStart.UTC(),
		WindowEnd:   req.WindowEnd.UTC(),
		Patient:     req.Patient,
		Priority:    req.Priority,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (e *Engine) List(ctx context.Context, clinicID uuid.UUID, f Filter) ([]Entry, error) {
	return e.repo.List(ctx, clinicID, f)
}

// OnSlotFreed starts promotion in the background and returns immediately.
// The work outlives the triggering request.
func (e *Engine) OnSlotFreed(ctx context.Context, slot appointment.FreedSlot) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := context.WithoutCancel(ctx)
		if _, err := e.Promote(ctx, slot); err != nil {
			e.logger.Error("waitlist promotion failed",
				"clinic_id", slot.ClinicID, "doctor_id", slot.DoctorID, "starts_at", slot.StartsAt, "error", err)
		}
	}()
}

// Wait blocks until background promotions have finished.
func (e *Engine) Wait() { e.wg.Wait() }

func slotLockKey(slot appointment.FreedSlot) string {
	return fmt.Sprintf("waitlist:%s:%s:%d", slot.ClinicID, slot.DoctorID, slot.StartsAt.Unix())
}

// Promote offers the slot to the next eligible waiting entry. It returns nil
// without error when nobody was offered the slot. While another promotion
// holds the slot lock it waits with backoff, then re-checks the slot.
func (e *Engine) Promote(ctx context.Context, slot appointment.FreedSlot) (*Entry, error) {
	var (
		offered  *Entry
		scanErr  error
		acquired bool
	)
	op := func() error {
		return e.locker.WithLock(ctx, slotLockKey(slot), func(ctx context.Context) error {
			acquired = true
			offered, scanErr = e.promote(ctx, slot)
			return nil
		})
	}
	onRetry := func(err error, wait time.Duration) {
		e.logger.Debug("slot lock unavailable, retrying",
			"clinic_id", slot.ClinicID, "starts_at", slot.StartsAt, "wait", wait, "error", err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(e.lockBackoff(), ctx), onRetry)
	if acquired {
		return offered, scanErr
	}
	e.metrics.ObserveWaitlistOffer("lock_timeout")
	return nil, fmt.Errorf("slot lock: %w", err)
}

func (e *Engine) promote(ctx context.Context, slot appointment.FreedSlot) (*Entry, error) {
	now := e.now()
	if !slot.StartsAt.After(now) {
		return nil, nil
	}

	taken, err := e.booker.SlotTaken(ctx, slot.ClinicID, slot.DoctorID, slot.StartsAt, slot.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		e.metrics.ObserveWaitlistOffer("aborted")
		return nil, nil
	}
	open, err := e.repo.OpenOfferExists(ctx, slot)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	expiresAt := now.Add(e.cfg.Waitlist.OfferWindow)
	if slot.StartsAt.Before(expiresAt) {
		expiresAt = slot.StartsAt
	}

	for range maxCandidateSkips {
		candidate, err := e.repo.NextCandidate(ctx, slot)
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}

		token, err := appointment.NewToken()
		if err != nil {
			return nil, err
		}
		entry, err := e.repo.MarkOffered(ctx, candidate.ClinicID, candidate.ID, Offer{
			Token:     token,
			DoctorID:  slot.DoctorID,
			StartsAt:  slot.StartsAt,
			EndsAt:    slot.EndsAt,
			ExpiresAt: expiresAt.UTC(),
		}, now.UTC())
		if errors.Is(err, appointment.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mark offered: %w", err)
		}

		e.metrics.ObserveWaitlistOffer("offered")
		e.record(ctx, entry, events.WaitlistOffered, nil)
		e.notifyOffer(ctx, entry)
		return entry, nil
	}
	return nil, nil
}

// notifyOffer retries transient failures with backoff. A failed notification
// leaves the offer to lapse through the expiry sweep.
func (e *Engine) notifyOffer(ctx context.Context, entry *Entry) {
	if e.messenger == nil {
		return
	}
	vars := map[string]any{
		"patient_name": entry.Patient.Name,
		"starts_at":    entry.OfferedStartsAt.UTC().Format("Mon 02 Jan 2006 15:04 MST"),
		"expires_at":   entry.OfferExpiresAt.UTC().Format("15:04 MST"),
		"accept_url":   e.offerURL(entry, "accept"),
		"decline_url":  e.offerURL(entry, "decline"),
	}
	contact := notify.Contact{Name: entry.Patient.Name, Phone: entry.Patient.Phone, Email: entry.Patient.Email}

	attempts := max(e.cfg.Waitlist.NotifyAttempts, 1)
	op := func() error {
		sendCtx := ctx
		if timeout := e.cfg.Reminders.DeliveryTimeout; timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, err := e.messenger.Send(sendCtx, contact, notify.TemplateWaitlistOffer, vars)
		if notify.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.backoff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		e.metrics.ObserveWaitlistOffer("notify_failed")
		e.logger.Error("waitlist offer notification failed",
			"clinic_id", entry.ClinicID, "entry_id", entry.ID, "error", err)
	}
}

func (e *Engine) offerURL(entry *Entry, action string) string {
	return fmt.Sprintf("%s/public/clinics/%s/waitlist/%s/%s?token=%s",
		strings.TrimRight(e.cfg.PublicBaseURL, "/"), entry.ClinicID, entry.ID, action, url.QueryEscape(entry.OfferToken))
}

// Accept books the offered slot for the entry. When the slot was taken in the
// meantime the entry goes back to waiting and ErrSlotConflict is returned.
func (e *Engine) Accept(ctx context.Context, clinicID, id uuid.UUID, token string) (*AcceptResult, error) {
	entry, err := e.openOffer(ctx, clinicID, id, token, StatusAccepted)
	if err != nil {
		return nil, err
	}
	if entry.Status == StatusAccepted {
		return &AcceptResult{Entry: entry, AlreadyApplied: true}, nil
	}
	slot, _ := entry.OfferedSlot()

	appt, err := e.booker.Book(ctx, appointment.BookingRequest{
		ClinicID:        clinicID,
		DoctorID:        slot.DoctorID,
		SpecialtyID:     entry.SpecialtyID,
		StartsAt:        slot.StartsAt,
		Patient:         entry.Patient,
		Source:          appointment.SourceWaitlist,
		WaitlistEntryID: &entry.ID,
	})
	if errors.Is(err, appointment.ErrSlotConflict) {
		if _, reqErr := e.repo.Requeue(ctx, clinicID, id, e.now().UTC()); reqErr != nil && !errors.Is(reqErr, appointment.ErrNotFound) {
			e.logger.Error("requeue waitlist entry failed", "clinic_id", clinicID, "entry_id", id, "error", reqErr)
		}
		e.metrics.ObserveWaitlistOffer("conflict")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	accepted, err := e.repo.MarkAccepted(ctx, clinicID, id, appt.ID, e.now().UTC())
	if err != nil {
		// The appointment exists either way; the sweep may have closed the offer first.
		e.logger.Warn("mark waitlist entry accepted failed",
			"clinic_id", clinicID, "entry_id", id, "appointment_id", appt.ID, "error", err)
		accepted = entry
	}
	e.metrics.ObserveWaitlistOffer("accepted")
	e.record(ctx, accepted, events.WaitlistAccepted, &appt.ID)
	return &AcceptResult{Entry: accepted, Appointment: appt}, nil
}

// Decline closes the offer and offers the same slot to the next candidate.
func (e *Engine) Decline(ctx context.Context, clinicID, id uuid.UUID, token string) (*Entry, error) {
	entry, err := e.openOffer(ctx, clinicID, id, token, StatusDeclined)
	if err != nil {
		return nil, err
	}
	if entry.Status == StatusDeclined {
		return entry, nil
	}
	declined, err := e.closeOffer(ctx, entry, StatusDeclined)
	if err != nil {
		return nil, err
	}
	e.promoteAfter(ctx, declined)
	return declined, nil
}

// openOffer loads an entry for a patient action. It returns the entry as is
// when it already reached target, and an error unless it is a live offer.
func (e *Engine) openOffer(ctx context.Context, clinicID, id uuid.UUID, token string, target Status) (*Entry, error) {
	entry, err := e.repo.Get(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if !appointment.TokensEqual(entry.OfferToken, token) {
		e.logger.Warn("waitlist offer token mismatch", "clinic_id", clinicID, "entry_id", id)
		return nil, appointment.ErrTokenMismatch
	}
	if entry.Status == target {
		return entry, nil
	}
	if entry.Status != StatusOffered {
		return nil, fmt.Errorf("%w: waitlist entry is %s", appointment.ErrInvalidTransition, entry.Status)
	}
	if _, ok := entry.OfferedSlot(); !ok {
		return nil, fmt.Errorf("%w: offer has no slot", appointment.ErrInvalidTransition)
	}
	if entry.OfferExpiresAt != nil && !e.now().Before(*entry.OfferExpiresAt) {
		if expired, err := e.closeOffer(ctx, entry, StatusExpired); err == nil {
			e.promoteAfter(ctx, expired)
		}
		return nil, fmt.Errorf("%w: offer expired", appointment.ErrInvalidTransition)
	}
	return entry, nil
}

func (e *Engine) closeOffer(ctx context.Context, entry *Entry, to Status) (*Entry, error) {
	closed, err := e.repo.CloseOffer(ctx, entry.ClinicID, entry.ID, to, e.now().UTC())
	if errors.Is(err, appointment.ErrNotFound) {
		return nil, fmt.Errorf("%w: offer is no longer open", appointment.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("close offer: %w", err)
	}
	e.metrics.ObserveWaitlistOffer(string(to))
	evType := events.WaitlistExpired
	if to == StatusDeclined {
		evType = events.WaitlistDeclined
	}
	e.record(ctx, closed, evType, nil)
	return closed, nil
}

// promoteAfter runs one promotion step for the slot a closed offer held.
func (e *Engine) promoteAfter(ctx context.Context, closed *Entry) {
	slot, ok := closed.OfferedSlot()
	if !ok {
		return
	}
	if _, err := e.Promote(ctx, slot); err != nil {
		e.logger.Error("promote next candidate failed",
			"clinic_id", slot.ClinicID, "starts_at", slot.StartsAt, "error", err)
	}
}

// ExpireOffers closes lapsed offers and moves each slot on to its next
// candidate. It returns the number of offers expired.
func (e *Engine) ExpireOffers(ctx context.Context) (int, error) {
	limit := e.cfg.BatchSize
	if limit <= 0 {
		limit = 50
	}
	lapsed, err := e.repo.ListLapsedOffers(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range lapsed {
		expired, err := e.closeOffer(ctx, &lapsed[i], StatusExpired)
		if err != nil {
			if !errors.Is(err, appointment.ErrInvalidTransition) {
				e.logger.Error("expire offer failed", "clinic_id", lapsed[i].ClinicID, "entry_id", lapsed[i].ID, "error", err)
			}
			continue
		}
		n++
		e.promoteAfter(ctx, expired)
	}
	return n, nil
}

// ResumeStalledSlots re-runs promotion for future slots whose last offer was
// declined or lapsed while waiting candidates remain and no offer is open.
// It covers promotions that could not take the slot lock in time.
func (e *Engine) ResumeStalledSlots(ctx context.Context) (int, error) {
	limit := e.cfg.BatchSize
	if limit <= 0 {
		limit = 50
	}
	slots, err := e.repo.ListStalledSlots(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, slot := range slots {
		offered, err := e.Promote(ctx, slot)
		if err != nil {
			e.logger.Error("resume stalled slot failed",
				"clinic_id", slot.ClinicID, "doctor_id", slot.DoctorID, "starts_at", slot.StartsAt, "error", err)
			continue
		}
		if offered != nil {
			n++
		}
	}
	return n, nil
}

type ReplyOutcome struct {
	Handled bool
	Action  Status
	Entry   *Entry
	Accept  *AcceptResult
}

// HandleReply applies a messaging reply to the patient's open offer, if any.
// Unhandled replies are left for the appointment reply handler.
func (e *Engine) HandleReply(ctx context.Context, clinicID uuid.UUID, phone, body string) (*ReplyOutcome, error) {
	t := appointment.ParseReply(body)
	if t == "" {
		return &ReplyOutcome{}, nil
	}
	entry, err := e.repo.FindOfferByPhone(ctx, clinicID, strings.TrimSpace(phone), e.now())
	if errors.Is(err, appointment.ErrNotFound) {
		return &ReplyOutcome{}, nil
	}
	if err != nil {
		return nil, err
	}

	if t == appointment.TransitionConfirm {
		res, err := e.Accept(ctx, clinicID, entry.ID, entry.OfferToken)
		if err != nil {
			return &ReplyOutcome{Handled: true, Entry: entry}, err
		}
		return &ReplyOutcome{Handled: true, Action: StatusAccepted, Entry: res.Entry, Accept: res}, nil
	}
	declined, err := e.Decline(ctx, clinicID, entry.ID, entry.OfferToken)
	if err != nil {
		return &ReplyOutcome{Handled: true, Entry: entry}, err
	}
	return &ReplyOutcome{Handled: true, Action: StatusDeclined, Entry: declined}, nil
}

func (e *Engine) record(ctx context.Context, entry *Entry, eventType string, appointmentID *uuid.UUID) {
	payload := map[string]any{"entry_id": entry.ID.String()}
	if entry.OfferedStartsAt != nil {
		payload["starts_at"] = *entry.OfferedStartsAt
	}
	_ = e.events.Record(ctx, events.Event{
		Type:          eventType,
		ClinicID:      entry.ClinicID,
		AppointmentID: appointmentID,
		Payload:       payload,
		OccurredAt:    e.now().UTC(),
	})
}
