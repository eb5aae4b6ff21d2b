package appointment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
)

type LinkResult struct {
	Appointment    *Appointment
	AlreadyApplied bool
}

type LinkSet struct {
	ConfirmURL string
	CancelURL  string
}

// Links builds the public confirm/cancel URLs sent to the patient.
func (s *Service) Links(appt *Appointment) LinkSet {
	base := fmt.Sprintf("%s/public/clinics/%s/appointments/%s",
		strings.TrimRight(s.cfg.PublicBaseURL, "/"), appt.ClinicID, appt.ID)
	token := url.QueryEscape(appt.ConfirmationToken)
	return LinkSet{
		ConfirmURL: base + "/confirm?token=" + token,
		CancelURL:  base + "/cancel?token=" + token,
	}
}

// ConfirmByLink confirms the appointment when token matches its confirmation
// token. Repeating the call on a confirmed appointment reports AlreadyApplied.
func (s *Service) ConfirmByLink(ctx context.Context, clinicID, id uuid.UUID, token string) (*LinkResult, error) {
	return s.applyLink(ctx, clinicID, id, token, TransitionConfirm, StatusConfirmed, "")
}

// CancelByLink is the cancel counterpart of ConfirmByLink.
func (s *Service) CancelByLink(ctx context.Context, clinicID, id uuid.UUID, token, reason string) (*LinkResult, error) {
	if reason == "" {
		reason = "cancelled by patient via link"
	}
	return s.applyLink(ctx, clinicID, id, token, TransitionCancel, StatusCancelled, reason)
}

func (s *Service) applyLink(ctx context.Context, clinicID, id uuid.UUID, token string, t Transition, target Status, reason string) (*LinkResult, error) {
	appt, err := s.repo.GetAppointment(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if !TokensEqual(appt.ConfirmationToken, token) {
		s.logger.Warn("confirmation token mismatch",
			"clinic_id", clinicID, "appointment_id", id, "action", string(t))
		return nil, ErrTokenMismatch
	}
	if appt.Status == target {
		return &LinkResult{Appointment: appt, AlreadyApplied: true}, nil
	}

	updated, err := s.transition(ctx, clinicID, id, t, ActorPatient, reason)
	if errors.Is(err, ErrInvalidTransition) {
		// A concurrent click may have applied the same action first.
		if current, reloadErr := s.repo.GetAppointment(ctx, clinicID, id); reloadErr == nil && current.Status == target {
			return &LinkResult{Appointment: current, AlreadyApplied: true}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &LinkResult{Appointment: updated}, nil
}

type ReplyAction string

const (
	ReplyIgnored   ReplyAction = "ignored"
	ReplyConfirmed ReplyAction = "confirmed"
	ReplyCancelled ReplyAction = "cancelled"
)

type ReplyResult struct {
	Action         ReplyAction
	Appointment    *Appointment
	AlreadyApplied bool
}

var (
	confirmReplies = []string{"1", "sim", "s", "yes", "y", "confirm", "confirmar", "confirmo"}
	cancelReplies  = []string{"2", "cancel", "cancelar", "cancela", "não", "nao", "no"}
)

// ParseReply maps a free-text patient reply to a transition, or "" when unrecognised.
func ParseReply(body string) Transition {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(body), ".!?"))
	if fields := strings.Fields(word); len(fields) > 0 {
		word = fields[0]
	}
	switch {
	case slices.Contains(confirmReplies, word):
		return TransitionConfirm
	case slices.Contains(cancelReplies, word):
		return TransitionCancel
	}
	return ""
}

// HandleReply applies a messaging reply to the patient's next upcoming active appointment.
func (s *Service) HandleReply(ctx context.Context, clinicID uuid.UUID, phone, body string) (*ReplyResult, error) {
	t := ParseReply(body)
	if t == "" {
		return &ReplyResult{Action: ReplyIgnored}, nil
	}

	appt, err := s.repo.FindNextActiveByPhone(ctx, clinicID, strings.TrimSpace(phone), s.now())
	if err != nil {
		return nil, err
	}

	switch t {
	case TransitionConfirm:
		if appt.Status == StatusConfirmed {
			return &ReplyResult{Action: ReplyConfirmed, Appointment: appt, AlreadyApplied: true}, nil
		}
		updated, err := s.transition(ctx, clinicID, appt.ID, TransitionConfirm, ActorPatient, "")
		if err != nil {
			return nil, err
		}
		return &ReplyResult{Action: ReplyConfirmed, Appointment: updated}, nil
	default:
		updated, err := s.transition(ctx, clinicID, appt.ID, TransitionCancel, ActorPatient, "cancelled by patient reply")
		if err != nil {
			return nil, err
		}
		return &ReplyResult{Action: ReplyCancelled, Appointment: updated}, nil
	}
}
