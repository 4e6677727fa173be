// Package whatsapp receives Meta webhook deliveries and drives the
// WhatsApp conversation channel.
package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skorbantu/advisor/backend/internal/config"
	"github.com/skorbantu/advisor/backend/internal/service/ai"
	"github.com/skorbantu/advisor/backend/internal/service/buffer"
	"github.com/skorbantu/advisor/backend/internal/service/credit"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
	whatsappservice "github.com/skorbantu/advisor/backend/internal/service/whatsapp"
)

// Handler validates and parses inbound webhook deliveries, buffers each
// sender's texts through the debounce window, and replies via the Graph
// API once a batch is processed.
type Handler struct {
	cfg          config.WhatsAppConfig
	buffer       *buffer.Buffer
	creditStore  *credit.Store
	registry     *sessionservice.Registry
	orchestrator *ai.Orchestrator
	sender       *whatsappservice.Sender
}

// New builds the webhook handler. delay is the WhatsApp debounce window,
// deliberately longer than the web one because users send bursts of
// short texts.
func New(cfg config.WhatsAppConfig, creditStore *credit.Store, registry *sessionservice.Registry, orchestrator *ai.Orchestrator, sender *whatsappservice.Sender, delay time.Duration) *Handler {
	h := &Handler{
		cfg:          cfg,
		creditStore:  creditStore,
		registry:     registry,
		orchestrator: orchestrator,
		sender:       sender,
	}
	h.buffer = buffer.New(delay, h.processTurn)
	return h
}

// RegisterRoutes mounts the Meta webhook endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook/whatsapp", h.handleVerify)
	r.Post("/webhook/whatsapp", h.handleInbound)
}

// handleVerify answers the Meta subscription handshake.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.cfg.VerifyToken {
		log.Println("[whatsapp] webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	log.Println("[whatsapp] webhook verification rejected")
	w.WriteHeader(http.StatusForbidden)
}

// webhookPayload mirrors the Graph API delivery shape down to the text
// messages; everything else is ignored.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		log.Println("[whatsapp] invalid webhook signature")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[whatsapp] malformed webhook body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if payload.Object == "whatsapp_business_account" {
		for _, entry := range payload.Entry {
			for _, change := range entry.Changes {
				h.acceptMessages(change.Value.Messages)
			}
		}
	}

	// Always acknowledge handled deliveries so Meta stops redelivering.
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) acceptMessages(messages []inboundMessage) {
	for _, msg := range messages {
		if msg.Type != "text" || msg.Text.Body == "" {
			continue
		}

		channelKey := whatsappservice.NormalizePhone(msg.From)
		log.Printf("[whatsapp] message from %s buffered", channelKey)
		h.buffer.Enqueue(channelKey, msg.Text.Body)

		messageID := msg.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.sender.MarkRead(ctx, messageID); err != nil {
				log.Printf("[whatsapp] read receipt failed: %v", err)
			}
		}()
	}
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// body using the app secret. Constant-time comparison.
func (h *Handler) VerifySignature(body []byte, header string) bool {
	if h.cfg.AppSecret == "" {
		// Without a secret there is nothing to verify against; refuse
		// deliveries rather than accept unauthenticated ones.
		return false
	}

	received, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil || len(received) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.cfg.AppSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), received)
}

// processTurn is the buffer's flush callback: one debounced batch for a
// phone number.
func (h *Handler) processTurn(channelKey string, messages []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	userID := whatsappservice.UserID(channelKey)

	// First contact provisions the simulated credit profile, same as the
	// web login flow does for OAuth users.
	created, err := h.creditStore.EnsureUser(ctx, userID, "WhatsApp User "+channelKey, userID+"@whatsapp.local")
	if err != nil {
		log.Printf("[whatsapp] provisioning user %s failed: %v", userID, err)
	}

	h.registry.GetOrCreate(ctx, channelKey, userID, sessionservice.Meta{
		ChannelRef: "whatsapp_" + channelKey,
		UserAgent:  "WhatsApp",
		NewUser:    created,
	})
	h.registry.Touch(channelKey)

	text := h.orchestrator.Complete(ctx, channelKey, messages)
	if text == "" {
		return
	}

	if err := h.sender.SendText(ctx, channelKey, text); err != nil {
		log.Printf("[whatsapp] reply to %s failed: %v", channelKey, err)
		return
	}
	log.Printf("[whatsapp] replied to %s", channelKey)
}

// ConfigStatus reports which webhook credentials are present, for the
// status endpoint.
func (h *Handler) ConfigStatus() map[string]bool {
	return map[string]bool{
		"accessToken":   h.cfg.AccessToken != "",
		"phoneNumberId": h.cfg.PhoneNumberID != "",
		"verifyToken":   h.cfg.VerifyToken != "",
		"appSecret":     h.cfg.AppSecret != "",
		"isConfigured":  h.cfg.Enabled(),
	}
}
