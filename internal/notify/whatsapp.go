package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppSender posts text messages to the WhatsApp Cloud API.
type WhatsAppSender struct {
	baseURL       string
	phoneNumberID string
	token         string
	http          *http.Client
}

func NewWhatsAppSender(baseURL, phoneNumberID, token string) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		phoneNumberID: strings.TrimSpace(phoneNumberID),
		token:         strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText returns the provider message id.
func (s *WhatsAppSender) SendText(ctx context.Context, to, body string) (string, error) {
	if s.baseURL == "" || s.phoneNumberID == "" || s.token == "" {
		return "", permanent(ChannelWhatsApp, errors.New("whatsapp sender not configured"))
	}
	raw, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return "", permanent(ChannelWhatsApp, err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", permanent(ChannelWhatsApp, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", transient(ChannelWhatsApp, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("whatsapp returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", transient(ChannelWhatsApp, err)
		}
		return "", permanent(ChannelWhatsApp, err)
	}

	var out whatsAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}
