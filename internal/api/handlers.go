package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/tenancy"
)

func clinicID(r *http.Request) uuid.UUID {
	id, _ := tenancy.ClinicIDFromContext(r.Context())
	return id
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseTime accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func listSlotsHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID, err := uuid.Parse(q.Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		from, err := parseTime(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339 or YYYY-MM-DD")
			return
		}
		to, err := parseTime(q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339 or YYYY-MM-DD")
			return
		}
		minutes := 0
		if v := q.Get("slot_minutes"); v != "" {
			if minutes, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_minutes", "slot_minutes must be an integer")
				return
			}
		}
		includePast, _ := strconv.ParseBool(q.Get("include_past"))

		set, err := svc.ComputeSlots(r.Context(), appointment.SlotQuery{
			ClinicID:    clinicID(r),
			DoctorID:    doctorID,
			From:        from,
			To:          to,
			SlotMinutes: minutes,
			IncludePast: includePast,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := SlotsResponse{DoctorID: doctorID, From: from, To: to, Slots: make([]SlotResponse, 0, set.Len())}
		for slot := range set.All() {
			resp.Slots = append(resp.Slots, SlotResponse{StartsAt: slot.Start, EndsAt: slot.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		specialtyID, err := uuid.Parse(req.SpecialtyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialty_id", "specialty_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			ClinicID:    clinicID(r),
			DoctorID:    doctorID,
			SpecialtyID: specialtyID,
			StartsAt:    req.StartsAt,
			Patient:     req.Patient.toPatient(),
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := appointmentResponse(appt)
		links := svc.Links(appt)
		resp.Links = &LinksResponse{ConfirmURL: links.ConfirmURL, CancelURL: links.CancelURL}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getAppointmentHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), clinicID(r), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

// transitionHandler serves the staff-facing lifecycle endpoints. The body is
// optional; the actor defaults to the clinic and may only be clinic or system.
// Patient actions go through token links and replies.
func transitionHandler(svc AppointmentService, logger *slog.Logger, t appointment.Transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req TransitionRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		actor := appointment.ActorClinic
		if req.Actor != "" {
			actor = appointment.Actor(req.Actor)
		}
		if actor != appointment.ActorClinic && actor != appointment.ActorSystem {
			writeError(w, http.StatusBadRequest, "invalid_actor", "actor must be clinic or system")
			return
		}

		var (
			appt *appointment.Appointment
			err  error
		)
		switch t {
		case appointment.TransitionConfirm:
			appt, err = svc.Confirm(r.Context(), clinicID(r), id, actor)
		case appointment.TransitionCancel:
			appt, err = svc.Cancel(r.Context(), clinicID(r), id, actor, req.Reason)
		case appointment.TransitionNoShow:
			appt, err = svc.MarkNoShow(r.Context(), clinicID(r), id)
		}
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}
