// Package notify delivers patient-facing messages (reminders, confirmations,
// waitlist offers) over WhatsApp with e-mail fallback.
package notify

import (
	"context"
	"errors"
	"fmt"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// ErrDelivery matches every *DeliveryError via errors.Is.
var ErrDelivery = errors.New("notify: delivery failed")

// Contact is where a patient can be reached.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// Receipt identifies a message accepted by a provider.
type Receipt struct {
	Channel           string
	ProviderMessageID string
}

// Messenger renders a template for the contact and hands it to a provider.
type Messenger interface {
	Send(ctx context.Context, to Contact, templateID string, vars map[string]any) (Receipt, error)
}

// DeliveryError reports a failed send. Permanent errors are not worth retrying
// (bad number, rejected template); everything else is transient.
type DeliveryError struct {
	Channel   string
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("notify: %s %s delivery error: %v", kind, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

func transient(channel string, err error) error {
	return &DeliveryError{Channel: channel, Err: err}
}

func permanent(channel string, err error) error {
	return &DeliveryError{Channel: channel, Permanent: true, Err: err}
}
