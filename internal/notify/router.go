package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type textSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

type emailSender interface {
	SendEmail(ctx context.Context, toName, toEmail, subject, body string) (string, error)
}

// Router renders templates and prefers WhatsApp, falling back to e-mail when the
// contact has no phone or WhatsApp rejects the message permanently.
type Router struct {
	renderer *Renderer
	whatsapp textSender
	email    emailSender
	metrics  *metrics.SchedulingMetrics
	logger   *slog.Logger
}

func NewRouter(whatsapp textSender, email emailSender, m *metrics.SchedulingMetrics, logger *slog.Logger) *Router {
	r := &Router{
		renderer: NewRenderer(),
		metrics:  m,
		logger:   logging.OrDefault(logger),
	}
	// Typed nil pointers must not become non-nil interfaces.
	if ws, ok := whatsapp.(*WhatsAppSender); !ok || ws != nil {
		r.whatsapp = whatsapp
	}
	if es, ok := email.(*EmailSender); !ok || es != nil {
		r.email = email
	}
	return r
}

func (r *Router) Send(ctx context.Context, to Contact, templateID string, vars map[string]any) (Receipt, error) {
	subject, body, err := r.renderer.Render(templateID, vars)
	if err != nil {
		return Receipt{}, permanent("render", err)
	}

	phone := strings.TrimSpace(to.Phone)
	email := strings.TrimSpace(to.Email)

	var waErr error
	if phone != "" && r.whatsapp != nil {
		id, err := r.whatsapp.SendText(ctx, phone, body)
		if err == nil {
			r.metrics.ObserveOutbound(ChannelWhatsApp, "sent")
			return Receipt{Channel: ChannelWhatsApp, ProviderMessageID: id}, nil
		}
		r.metrics.ObserveOutbound(ChannelWhatsApp, "failed")
		waErr = err
		if !IsPermanent(err) || email == "" || r.email == nil {
			return Receipt{}, err
		}
		r.logger.Warn("whatsapp rejected message, falling back to email",
			"template", templateID, "error", err)
	}

	if email != "" && r.email != nil {
		id, err := r.email.SendEmail(ctx, to.Name, email, subject, body)
		if err != nil {
			r.metrics.ObserveOutbound(ChannelEmail, "failed")
			return Receipt{}, err
		}
		r.metrics.ObserveOutbound(ChannelEmail, "sent")
		return Receipt{Channel: ChannelEmail, ProviderMessageID: id}, nil
	}

	if waErr != nil {
		return Receipt{}, waErr
	}
	return Receipt{}, permanent("none", errors.New("contact has no reachable channel"))
}
