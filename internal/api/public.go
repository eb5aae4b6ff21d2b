package api

import (
	"log/slog"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Public link handlers serve the URLs sent to patients. The token in the
// query string is the only credential.

func confirmLinkHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		res, err := svc.ConfirmByLink(r.Context(), clinicID(r), id, r.URL.Query().Get("token"))
		writeLinkResult(w, r, logger, res, err)
	}
}

func cancelLinkHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		res, err := svc.CancelByLink(r.Context(), clinicID(r), id, q.Get("token"), q.Get("reason"))
		writeLinkResult(w, r, logger, res, err)
	}
}

func writeLinkResult(w http.ResponseWriter, r *http.Request, logger *slog.Logger, res *appointment.LinkResult, err error) {
	if err != nil {
		handleServiceError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LinkActionResponse{
		Appointment:    appointmentResponse(res.Appointment),
		AlreadyApplied: res.AlreadyApplied,
	})
}
