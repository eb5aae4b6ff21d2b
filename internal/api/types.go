package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type PatientPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	CPF   string `json:"cpf,omitempty"`
}

func (p PatientPayload) toPatient() appointment.Patient {
	return appointment.Patient{Name: p.Name, Phone: p.Phone, Email: p.Email, CPF: p.CPF}
}

func patientPayload(p appointment.Patient) PatientPayload {
	return PatientPayload{Name: p.Name, Phone: p.Phone, Email: p.Email, CPF: p.CPF}
}

type CreateAppointmentRequest struct {
	DoctorID    string         `json:"doctor_id"`
	SpecialtyID string         `json:"specialty_id"`
	StartsAt    time.Time      `json:"starts_at"`
	Patient     PatientPayload `json:"patient"`
}

type TransitionRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type LinksResponse struct {
	ConfirmURL string `json:"confirm_url"`
	CancelURL  string `json:"cancel_url"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID      `json:"id"`
	ClinicID           uuid.UUID      `json:"clinic_id"`
	DoctorID           uuid.UUID      `json:"doctor_id"`
	DoctorName         string         `json:"doctor_name,omitempty"`
	SpecialtyID        uuid.UUID      `json:"specialty_id"`
	Patient            PatientPayload `json:"patient"`
	StartsAt           time.Time      `json:"starts_at"`
	EndsAt             time.Time      `json:"ends_at"`
	Status             string         `json:"status"`
	Source             string         `json:"source"`
	ConfirmedBy        string         `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time     `json:"confirmed_at,omitempty"`
	CancelledBy        string         `json:"cancelled_by,omitempty"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	NoShowAt           *time.Time     `json:"no_show_at,omitempty"`
	WaitlistEntryID    *uuid.UUID     `json:"waitlist_entry_id,omitempty"`
	Links              *LinksResponse `json:"links,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func appointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID,
		ClinicID:           a.ClinicID,
		DoctorID:           a.DoctorID,
		DoctorName:         a.DoctorName,
		SpecialtyID:        a.SpecialtyID,
		Patient:            patientPayload(a.Patient),
		StartsAt:           a.StartsAt,
		EndsAt:             a.EndsAt,
		Status:             string(a.Status),
		Source:             a.Source,
		ConfirmedAt:        a.ConfirmedAt,
		CancellationReason: a.CancellationReason,
		CancelledAt:        a.CancelledAt,
		CompletedAt:        a.CompletedAt,
		NoShowAt:           a.NoShowAt,
		WaitlistEntryID:    a.WaitlistEntryID,
		CreatedAt:          a.CreatedAt,
	}
	if a.ConfirmedBy != nil {
		resp.ConfirmedBy = string(*a.ConfirmedBy)
	}
	if a.CancelledBy != nil {
		resp.CancelledBy = string(*a.CancelledBy)
	}
	return resp
}

type LinkActionResponse struct {
	Appointment    AppointmentResponse `json:"appointment"`
	AlreadyApplied bool                `json:"already_applied"`
}

type SlotResponse struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Slots    []SlotResponse `json:"slots"`
}

type WaitlistRequest struct {
	DoctorID    string         `json:"doctor_id,omitempty"`
	SpecialtyID string         `json:"specialty_id"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Patient     PatientPayload `json:"patient"`
	Priority    int            `json:"priority"`
}

type OfferActionRequest struct {
	Token string `json:"token"`
}

type OfferResponse struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID      `json:"id"`
	ClinicID      uuid.UUID      `json:"clinic_id"`
	DoctorID      *uuid.UUID     `json:"doctor_id,omitempty"`
	SpecialtyID   uuid.UUID      `json:"specialty_id"`
	WindowStart   time.Time      `json:"window_start"`
	WindowEnd     time.Time      `json:"window_end"`
	Patient       PatientPayload `json:"patient"`
	Priority      int            `json:"priority"`
	Status        string         `json:"status"`
	Offer         *OfferResponse `json:"offer,omitempty"`
	AppointmentID *uuid.UUID     `json:"appointment_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func waitlistEntryResponse(e *waitlist.Entry) WaitlistEntryResponse {
	resp := WaitlistEntryResponse{
		ID:            e.ID,
		ClinicID:      e.ClinicID,
		DoctorID:      e.DoctorID,
		SpecialtyID:   e.SpecialtyID,
		WindowStart:   e.WindowStart,
		WindowEnd:     e.WindowEnd,
		Patient:       patientPayload(e.Patient),
		Priority:      e.Priority,
		Status:        string(e.Status),
		AppointmentID: e.AppointmentID,
		CreatedAt:     e.CreatedAt,
	}
	if slot, ok := e.OfferedSlot(); ok && e.OfferExpiresAt != nil {
		resp.Offer = &OfferResponse{
			DoctorID:  slot.DoctorID,
			StartsAt:  slot.StartsAt,
			EndsAt:    slot.EndsAt,
			ExpiresAt: *e.OfferExpiresAt,
		}
	}
	return resp
}

type AcceptOfferResponse struct {
	Entry          WaitlistEntryResponse `json:"entry"`
	Appointment    *AppointmentResponse  `json:"appointment,omitempty"`
	AlreadyApplied bool                  `json:"already_applied"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}
