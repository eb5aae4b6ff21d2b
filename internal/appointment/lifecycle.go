package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/events"
)

type Transition string

const (
	TransitionConfirm  Transition = "confirm"
	TransitionCancel   Transition = "cancel"
	TransitionComplete Transition = "complete"
	TransitionNoShow   Transition = "no_show"
)

// NextStatus applies the lifecycle rules:
//
//	pending   -> confirmed
//	confirmed -> completed            (after the start)
//	pending   -> cancelled | no_show
//	confirmed -> cancelled | no_show
//
// no_show is only reachable once start+grace has passed. Terminal states reject everything.
func NextStatus(current Status, t Transition, startsAt, now time.Time, grace time.Duration) (Status, error) {
	if current.Terminal() {
		return "", fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, current)
	}
	switch t {
	case TransitionConfirm:
		if current == StatusPending {
			return StatusConfirmed, nil
		}
	case TransitionCancel:
		if current.Active() {
			return StatusCancelled, nil
		}
	case TransitionComplete:
		if current != StatusConfirmed {
			break
		}
		if now.Before(startsAt) {
			return "", fmt.Errorf("%w: appointment has not started", ErrInvalidTransition)
		}
		return StatusCompleted, nil
	case TransitionNoShow:
		if !current.Active() {
			break
		}
		if now.Before(startsAt.Add(grace)) {
			return "", fmt.Errorf("%w: grace period has not elapsed", ErrInvalidTransition)
		}
		return StatusNoShow, nil
	default:
		return "", fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, t)
	}
	return "", fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidTransition, t, current)
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, clinicID, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, clinicID, id, TransitionConfirm, actor, "")
}

// Cancel releases the slot and hands it to the waitlist.
func (s *Service) Cancel(ctx context.Context, clinicID, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	return s.transition(ctx, clinicID, id, TransitionCancel, actor, reason)
}

// Complete closes a confirmed appointment that has started. It is recorded as
// a system action, never a patient one.
func (s *Service) Complete(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, clinicID, id, TransitionComplete, ActorSystem, "")
}

// MarkNoShow records that the patient did not attend. It is rejected until
// the configured grace period after the start has elapsed.
func (s *Service) MarkNoShow(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, clinicID, id, TransitionNoShow, ActorSystem, "")
}

// CompleteEnded completes confirmed appointments whose end time has passed
// and returns how many it completed.
func (s *Service) CompleteEnded(ctx context.Context) (int, error) {
	limit := s.cfg.BatchSize
	if limit <= 0 {
		limit = 50
	}
	refs, err := s.repo.ListEndedConfirmed(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := s.Complete(ctx, ref.ClinicID, ref.ID); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				s.logger.Error("complete appointment failed", "clinic_id", ref.ClinicID, "appointment_id", ref.ID, "error", err)
			}
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) transition(ctx context.Context, clinicID, id uuid.UUID, t Transition, actor Actor, reason string) (*Appointment, error) {
	if !actor.Valid() {
		return nil, invalid("actor", "must be patient, clinic or system")
	}

	appt, err := s.repo.GetAppointment(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next, err := NextStatus(appt.Status, t, appt.StartsAt, now, s.cfg.Scheduling.NoShowGrace)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, clinicID, id, appt.Status, StatusChange{
		To:     next,
		At:     now.UTC(),
		Actor:  actor,
		Reason: reason,
	})
	if errors.Is(err, ErrNotFound) {
		// Lost the compare-and-swap: report against the status that won.
		current, reloadErr := s.repo.GetAppointment(ctx, clinicID, id)
		if reloadErr != nil {
			return nil, reloadErr
		}
		return nil, fmt.Errorf("%w: appointment is now %s", ErrInvalidTransition, current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	updated.DoctorName = appt.DoctorName

	s.metrics.ObserveTransition(string(next))
	s.afterTransition(ctx, updated, actor, reason)
	return updated, nil
}

var transitionEvents = map[Status]string{
	StatusConfirmed: events.AppointmentConfirmed,
	StatusCancelled: events.AppointmentCancelled,
	StatusCompleted: events.AppointmentCompleted,
	StatusNoShow:    events.AppointmentNoShow,
}

func (s *Service) afterTransition(ctx context.Context, appt *Appointment, actor Actor, reason string) {
	payload := map[string]any{"actor": string(actor)}
	if reason != "" {
		payload["reason"] = reason
	}
	s.logEvent(ctx, appt, transitionEvents[appt.Status], payload)

	if !appt.Status.Terminal() {
		return
	}
	if s.reminders != nil {
		if err := s.reminders.CancelForAppointment(ctx, appt.ClinicID, appt.ID); err != nil {
			s.logger.Error("cancel reminders failed",
				"clinic_id", appt.ClinicID, "appointment_id", appt.ID, "error", err)
		}
	}
	if s.slotFreed != nil && (appt.Status == StatusCancelled || appt.Status == StatusNoShow) {
		s.slotFreed.OnSlotFreed(ctx, FreedSlot{
			ClinicID:    appt.ClinicID,
			DoctorID:    appt.DoctorID,
			SpecialtyID: appt.SpecialtyID,
			StartsAt:    appt.StartsAt,
			EndsAt:      appt.EndsAt,
		})
	}
}
