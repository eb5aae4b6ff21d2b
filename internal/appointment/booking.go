package appointment

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/events"
)

type BookingRequest struct {
	ClinicID        uuid.UUID
	DoctorID        uuid.UUID
	SpecialtyID     uuid.UUID
	StartsAt        time.Time
	Patient         Patient
	Source          string
	WaitlistEntryID *uuid.UUID
}

// Book creates a pending appointment. Of any number of concurrent calls for
// the same doctor and start, exactly one succeeds; the rest get ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := validateBooking(&req); err != nil {
		return nil, err
	}

	doctor, err := s.repo.GetDoctor(ctx, req.ClinicID, req.DoctorID)
	if err != nil {
		return nil, err
	}
	specialty, err := s.repo.GetSpecialty(ctx, req.ClinicID, req.SpecialtyID)
	if err != nil {
		return nil, err
	}
	if doctor.SpecialtyID != specialty.ID {
		return nil, invalid("specialty_id", "doctor does not offer this specialty")
	}

	// Re-check against the grid of that local day instead of trusting the client.
	loc := doctor.Location()
	local := req.StartsAt.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	slots, err := s.freeSlots(ctx, doctor, dayStart, dayStart.AddDate(0, 0, 1), doctor.SlotMinutes, false)
	if err != nil {
		return nil, err
	}
	if !slots.Contains(req.StartsAt) {
		s.metrics.ObserveBooking("unavailable")
		return nil, ErrSlotUnavailable
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	appt, err := s.repo.CreateAppointment(ctx, &Appointment{
		ID:                uuid.New(),
		ClinicID:          req.ClinicID,
		DoctorID:          doctor.ID,
		SpecialtyID:       specialty.ID,
		Patient:           req.Patient,
		StartsAt:          req.StartsAt.UTC(),
		EndsAt:            req.StartsAt.UTC().Add(time.Duration(doctor.SlotMinutes) * time.Minute),
		SlotMinutes:       doctor.SlotMinutes,
		Status:            StatusPending,
		ConfirmationToken: token,
		Source:            req.Source,
		WaitlistEntryID:   req.WaitlistEntryID,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveBooking("conflict")
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	appt.DoctorName = doctor.Name

	s.metrics.ObserveBooking("booked")
	s.afterBooking(ctx, appt)
	return appt, nil
}

// afterBooking runs the post-commit side effects. Their failures are logged only.
func (s *Service) afterBooking(ctx context.Context, appt *Appointment) {
	s.logEvent(ctx, appt, events.AppointmentCreated, map[string]any{
		"doctor_id": appt.DoctorID.String(),
		"starts_at": appt.StartsAt,
		"source":    appt.Source,
	})

	if s.reminders == nil {
		return
	}
	if err := s.reminders.Schedule(ctx, appt); err != nil {
		s.logger.Error("schedule reminders failed",
			"clinic_id", appt.ClinicID, "appointment_id", appt.ID, "error", err)
	}
}

func validateBooking(req *BookingRequest) error {
	switch {
	case req.ClinicID == uuid.Nil:
		return invalid("clinic_id", "required")
	case req.DoctorID == uuid.Nil:
		return invalid("doctor_id", "required")
	case req.SpecialtyID == uuid.Nil:
		return invalid("specialty_id", "required")
	case req.StartsAt.IsZero():
		return invalid("starts_at", "required")
	}
	if req.Source == "" {
		req.Source = SourceDirect
	}
	return ValidatePatient(&req.Patient)
}

// ValidatePatient trims the contact fields and checks the ones that are set.
func ValidatePatient(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
	p.CPF = strings.TrimSpace(p.CPF)

	if p.Name == "" {
		return invalid("patient.name", "required")
	}
	if p.Phone == "" {
		return invalid("patient.phone", "required")
	}
	if digits := onlyDigits(p.Phone); len(digits) < 8 || len(digits) > 15 {
		return invalid("patient.phone", "must have 8 to 15 digits")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return invalid("patient.email", "malformed address")
		}
	}
	if p.CPF != "" {
		cpf := onlyDigits(p.CPF)
		if !validCPF(cpf) {
			return invalid("patient.cpf", "invalid check digits")
		}
		p.CPF = cpf
	}
	return nil
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func validCPF(cpf string) bool {
	if len(cpf) != 11 || strings.Count(cpf, cpf[:1]) == 11 {
		return false
	}
	check := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cpf[i]-'0') * (n + 1 - i)
		}
		d := sum * 10 % 11
		if d == 10 {
			d = 0
		}
		return d
	}
	return check(9) == int(cpf[9]-'0') && check(10) == int(cpf[10]-'0')
}
