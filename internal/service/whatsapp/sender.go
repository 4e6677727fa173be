// Package whatsapp sends outbound messages through the Meta Graph API
// and derives stable identities from phone numbers.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/skorbantu/advisor/backend/internal/config"
)

// Sender is the outbound Graph API client.
type Sender struct {
	cfg        config.WhatsAppConfig
	httpClient *http.Client
}

// NewSender builds a sender. With incomplete credentials every send is
// refused with an error rather than a panic.
func NewSender(cfg config.WhatsAppConfig) *Sender {
	return &Sender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether the Graph credentials are present.
func (s *Sender) Enabled() bool {
	return s.cfg.Enabled()
}

// SendText delivers a text message to the phone number. Sending the same
// text again is safe; the Graph API treats each call as a new message, so
// callers may retry on transport failure without extra bookkeeping.
func (s *Sender) SendText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return s.post(ctx, payload)
}

// MarkRead acknowledges an inbound message, which shows the typing/read
// state on the user's side while the reply is being prepared.
func (s *Sender) MarkRead(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return s.post(ctx, payload)
}

func (s *Sender) post(ctx context.Context, payload map[string]any) error {
	if !s.Enabled() {
		return fmt.Errorf("whatsapp sender not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.cfg.GraphBaseURL, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Printf("[whatsapp] graph api returned %d: %s", resp.StatusCode, detail)
		return fmt.Errorf("whatsapp send failed with status %d", resp.StatusCode)
	}
	return nil
}

// NormalizePhone reduces a raw phone number to digits with the 62 country
// prefix, matching how local numbers arrive (0812... or 812... or 62812...).
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()

	switch {
	case strings.HasPrefix(clean, "62"):
		return clean
	case strings.HasPrefix(clean, "0"):
		return "62" + clean[1:]
	default:
		return "62" + clean
	}
}

// UserID derives the stable user identity for a phone number.
func UserID(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return "whatsapp_" + digits.String()
}
