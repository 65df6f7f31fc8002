// Package delivery sends reminder messages to users over an outbound webhook.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 5 * time.Second

// Message is the webhook payload. Type marks it as system generated so the
// receiving channel can tell it apart from user input.
type Message struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

const TypeReminder = "reminder"

// Webhook posts reminders as JSON to URL. Any outcome other than HTTP 200 is
// reported as a failed delivery.
type Webhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewWebhook(url string, timeout time.Duration, log zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (w *Webhook) Send(ctx context.Context, user, text string) bool {
	deliveryID := uuid.NewString()
	l := w.log.With().Str("user", user).Str("delivery_id", deliveryID).Logger()

	body, err := json.Marshal(Message{Sender: user, Message: text, Type: TypeReminder})
	if err != nil {
		l.Error().Err(err).Msg("encode reminder")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		l.Error().Err(err).Msg("build reminder request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		l.Error().Err(err).Msg("error sending reminder")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		l.Error().Int("status", resp.StatusCode).Msg("failed to send reminder")
		return false
	}
	l.Info().Str("message", text).Msg("reminder sent")
	return true
}
