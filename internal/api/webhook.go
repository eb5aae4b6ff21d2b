package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// whatsAppEvent is the subset of the Cloud API webhook payload we read.
type whatsAppEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []whatsAppMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

// InboundReply is a patient message reduced to what the reply handlers need.
type InboundReply struct {
	MessageID string
	Phone     string
	Body      string
}

func (m whatsAppMessage) reply() (InboundReply, bool) {
	var body string
	switch {
	case m.Text != nil:
		body = m.Text.Body
	case m.Button != nil:
		body = m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		body = m.Interactive.ButtonReply.Title
	default:
		return InboundReply{}, false
	}
	phone := strings.TrimSpace(m.From)
	if phone == "" {
		return InboundReply{}, false
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return InboundReply{MessageID: m.ID, Phone: phone, Body: body}, true
}

// ParseWhatsAppEvent extracts the replies carried by a webhook payload.
func ParseWhatsAppEvent(body []byte) ([]InboundReply, error) {
	var event whatsAppEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	var out []InboundReply
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if reply, ok := msg.reply(); ok {
					out = append(out, reply)
				}
			}
		}
	}
	return out, nil
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}

type WhatsAppWebhook struct {
	appointments AppointmentService
	waitlist     WaitlistService
	verifyToken  string
	appSecret    string
	logger       *slog.Logger
}

// NewWhatsAppWebhook builds the webhook. Without appSecret inbound messages
// are refused, since an unsigned payload could act on any patient's phone.
func NewWhatsAppWebhook(appts AppointmentService, wl WaitlistService, verifyToken, appSecret string, logger *slog.Logger) *WhatsAppWebhook {
	logger = logging.OrDefault(logger)
	if appSecret == "" {
		logger.Warn("whatsapp app secret not set, inbound webhook disabled")
	}
	return &WhatsAppWebhook{
		appointments: appts,
		waitlist:     wl,
		verifyToken:  verifyToken,
		appSecret:    appSecret,
		logger:       logger,
	}
}

// HandleVerification answers Meta's subscription challenge.
func (h *WhatsAppWebhook) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification_failed", "")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, q.Get("hub.challenge"))
}

// HandleInbound applies each reply and always acknowledges a well-formed
// payload, so the provider does not redeliver it. Only payloads signed with
// the app secret are read.
func (h *WhatsAppWebhook) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if h.appSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook_not_configured", "")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "")
		return
	}
	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid_signature", "")
		return
	}
	replies, err := ParseWhatsAppEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse webhook payload")
		return
	}

	clinic := clinicID(r)
	for _, reply := range replies {
		h.apply(r.Context(), clinic, reply)
	}
	w.WriteHeader(http.StatusOK)
}

// apply routes a reply to the patient's open waitlist offer first, then to
// their next appointment.
func (h *WhatsAppWebhook) apply(ctx context.Context, clinicID uuid.UUID, reply InboundReply) {
	log := h.logger.With("clinic_id", clinicID, "message_id", reply.MessageID)

	outcome, err := h.waitlist.HandleReply(ctx, clinicID, reply.Phone, reply.Body)
	if err != nil {
		log.Warn("waitlist reply not applied", "error", err)
		return
	}
	if outcome.Handled {
		log.Info("waitlist reply applied", "action", string(outcome.Action), "entry_id", outcome.Entry.ID)
		return
	}

	res, err := h.appointments.HandleReply(ctx, clinicID, reply.Phone, reply.Body)
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		log.Debug("reply from patient without upcoming appointment")
	case err != nil:
		log.Warn("appointment reply not applied", "error", err)
	case res.Action == appointment.ReplyIgnored:
		log.Debug("reply not recognised")
	default:
		log.Info("appointment reply applied",
			"action", string(res.Action), "appointment_id", res.Appointment.ID, "already_applied", res.AlreadyApplied)
	}
}
