package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	TemplateAppointmentBooked   = "appointment_booked"
	TemplateAppointmentReminder = "appointment_reminder"
	TemplateWaitlistOffer       = "waitlist_offer"
)

type messageTemplate struct {
	subject string
	body    string
}

var builtinTemplates = map[string]messageTemplate{
	TemplateAppointmentBooked: {
		subject: "Your appointment request",
		body: "Hi {{.patient_name}}, your appointment with {{.doctor_name}} is booked for {{.starts_at}}.\n" +
			"Reply 1 or open {{.confirm_url}} to confirm.\n" +
			"Reply 2 or open {{.cancel_url}} to cancel.",
	},
	TemplateAppointmentReminder: {
		subject: "Appointment reminder",
		body: "Hi {{.patient_name}}, this is a reminder of your appointment with {{.doctor_name}} on {{.starts_at}}.\n" +
			"Reply 1 or open {{.confirm_url}} to confirm.\n" +
			"Reply 2 or open {{.cancel_url}} to cancel.",
	},
	TemplateWaitlistOffer: {
		subject: "An earlier appointment is available",
		body: "Hi {{.patient_name}}, a slot opened on {{.starts_at}}. " +
			"It is held for you until {{.expires_at}}.\n" +
			"Reply YES or open {{.accept_url}} to take it, reply NO or open {{.decline_url}} to pass.",
	},
}

// Renderer renders the built-in message templates with strict missing-key semantics.
type Renderer struct {
	templates map[string]messageTemplate
}

func NewRenderer() *Renderer {
	return &Renderer{templates: builtinTemplates}
}

// Render returns the subject (for e-mail) and the body text.
func (r *Renderer) Render(templateID string, vars map[string]any) (string, string, error) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return "", "", fmt.Errorf("notify: unknown template %q", templateID)
	}
	t, err := template.New(templateID).Option("missingkey=error").Parse(tmpl.body)
	if err != nil {
		return "", "", fmt.Errorf("notify: parse %s: %w", templateID, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", "", fmt.Errorf("notify: execute %s: %w", templateID, err)
	}
	return tmpl.subject, buf.String(), nil
}
