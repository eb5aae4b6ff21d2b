package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

// AppointmentService is the part of *appointment.Service the API serves.
type AppointmentService interface {
	ComputeSlots(ctx context.Context, q appointment.SlotQuery) (*appointment.SlotSet, error)
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, clinicID, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Cancel(ctx context.Context, clinicID, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	ConfirmByLink(ctx context.Context, clinicID, id uuid.UUID, token string) (*appointment.LinkResult, error)
	CancelByLink(ctx context.Context, clinicID, id uuid.UUID, token, reason string) (*appointment.LinkResult, error)
	HandleReply(ctx context.Context, clinicID uuid.UUID, phone, body string) (*appointment.ReplyResult, error)
	Links(appt *appointment.Appointment) appointment.LinkSet
}

// WaitlistService is the part of *waitlist.Engine the API serves.
type WaitlistService interface {
	Add(ctx context.Context, req waitlist.AddRequest) (*waitlist.Entry, error)
	List(ctx context.Context, clinicID uuid.UUID, f waitlist.Filter) ([]waitlist.Entry, error)
	Accept(ctx context.Context, clinicID, id uuid.UUID, token string) (*waitlist.AcceptResult, error)
	Decline(ctx context.Context, clinicID, id uuid.UUID, token string) (*waitlist.Entry, error)
	HandleReply(ctx context.Context, clinicID uuid.UUID, phone, body string) (*waitlist.ReplyOutcome, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Waitlist     WaitlistService
	Postgres     Pinger
	Redis        *redis.Client
	Metrics      http.Handler // nil disables /metrics
	Logger       *slog.Logger
	Env          string
	Version      string

	WhatsAppVerifyToken string
	WhatsAppAppSecret   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrDefault(cfg.Logger).With("component", "api")
	appts, wl := cfg.Appointments, cfg.Waitlist

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Staff-facing routes, scoped by X-Clinic-ID.
	r.Group(func(r chi.Router) {
		r.Use(ClinicScope)

		r.Get("/clinics/slots", listSlotsHandler(appts, logger))

		r.Post("/appointments", createAppointmentHandler(appts, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(appts, logger))
		r.Post("/appointments/{id}/confirm", transitionHandler(appts, logger, appointment.TransitionConfirm))
		r.Post("/appointments/{id}/cancel", transitionHandler(appts, logger, appointment.TransitionCancel))
		r.Post("/appointments/{id}/no-show", transitionHandler(appts, logger, appointment.TransitionNoShow))

		r.Get("/waitlist", listWaitlistHandler(wl, logger))
		r.Post("/waitlist", addWaitlistHandler(wl, logger))
		r.Post("/waitlist/{id}/accept", acceptOfferHandler(wl, logger))
		r.Post("/waitlist/{id}/decline", declineOfferHandler(wl, logger))
	})

	// Patient-facing links and provider webhooks carry the clinic in the path.
	r.Route("/public/clinics/{clinicID}", func(r chi.Router) {
		r.Use(PathClinicScope("clinicID"))

		// GET only renders a page whose form POSTs back; link previews must not act.
		r.Get("/appointments/{id}/confirm", linkPageHandler(linkConfirm, logger))
		r.Get("/appointments/{id}/cancel", linkPageHandler(linkCancel, logger))
		r.Get("/waitlist/{id}/accept", linkPageHandler(linkAccept, logger))
		r.Get("/waitlist/{id}/decline", linkPageHandler(linkDecline, logger))

		r.Post("/appointments/{id}/confirm", confirmLinkHandler(appts, logger))
		r.Post("/appointments/{id}/cancel", cancelLinkHandler(appts, logger))
		r.Post("/waitlist/{id}/accept", acceptOfferHandler(wl, logger))
		r.Post("/waitlist/{id}/decline", declineOfferHandler(wl, logger))
	})

	webhook := NewWhatsAppWebhook(appts, wl, cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, logger)
	r.Route("/webhooks/whatsapp/{clinicID}", func(r chi.Router) {
		r.Use(PathClinicScope("clinicID"))
		r.Get("/", webhook.HandleVerification)
		r.Post("/", webhook.HandleInbound)
	})

	return r
}
