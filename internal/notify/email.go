package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailSender delivers plain-text e-mail through SendGrid.
type EmailSender struct {
	client    sendgridClient
	fromEmail string
	fromName  string
}

// NewEmailSender returns nil when no API key is configured.
func NewEmailSender(apiKey, fromEmail, fromName string) *EmailSender {
	if apiKey == "" {
		return nil
	}
	return &EmailSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SendEmail returns the SendGrid message id when present.
func (s *EmailSender) SendEmail(ctx context.Context, toName, toEmail, subject, body string) (string, error) {
	if s == nil || s.client == nil {
		return "", permanent(ChannelEmail, errors.New("sendgrid client not configured"))
	}
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		subject,
		mail.NewEmail(toName, toEmail),
		body,
		"",
	)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return "", transient(ChannelEmail, err)
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", transient(ChannelEmail, err)
		}
		return "", permanent(ChannelEmail, err)
	}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
