package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

func addWaitlistHandler(svc WaitlistService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WaitlistRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		specialtyID, err := uuid.Parse(req.SpecialtyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialty_id", "specialty_id must be a valid UUID")
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		entry, err := svc.Add(r.Context(), waitlist.AddRequest{
			ClinicID:    clinicID(r),
			DoctorID:    doctorID,
			SpecialtyID: specialtyID,
			WindowStart: req.WindowStart,
			WindowEnd:   req.WindowEnd,
			Patient:     req.Patient.toPatient(),
			Priority:    req.Priority,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, waitlistEntryResponse(entry))
	}
}

func listWaitlistHandler(svc WaitlistService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := waitlist.Filter{Status: waitlist.Status(q.Get("status"))}
		for param, dst := range map[string]**uuid.UUID{"specialty_id": &f.SpecialtyID, "doctor_id": &f.DoctorID} {
			v := q.Get(param)
			if v == "" {
				continue
			}
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
				return
			}
			*dst = &id
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}

		entries, err := svc.List(r.Context(), clinicID(r), f)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		out := make([]WaitlistEntryResponse, 0, len(entries))
		for i := range entries {
			out = append(out, waitlistEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// offerToken reads the token from the query string, falling back to a JSON body.
func offerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	var req OfferActionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return "", false
	}
	return req.Token, true
}

func acceptOfferHandler(svc WaitlistService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		token, ok := offerToken(w, r)
		if !ok {
			return
		}
		res, err := svc.Accept(r.Context(), clinicID(r), id, token)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		resp := AcceptOfferResponse{Entry: waitlistEntryResponse(res.Entry), AlreadyApplied: res.AlreadyApplied}
		if res.Appointment != nil {
			appt := appointmentResponse(res.Appointment)
			resp.Appointment = &appt
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func declineOfferHandler(svc WaitlistService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		token, ok := offerToken(w, r)
		if !ok {
			return
		}
		entry, err := svc.Decline(r.Context(), clinicID(r), id, token)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, waitlistEntryResponse(entry))
	}
}
