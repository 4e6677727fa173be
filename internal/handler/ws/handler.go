// Package ws carries the web chat channel: one websocket per browser,
// identified by a transient connection id.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skorbantu/advisor/backend/internal/service/ai"
	"github.com/skorbantu/advisor/backend/internal/service/buffer"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
)

const assistantSender = "Admin"

// Handler upgrades chat connections and routes their messages through
// the debounce buffer into the orchestrator.
type Handler struct {
	registry     *sessionservice.Registry
	orchestrator *ai.Orchestrator
	buffer       *buffer.Buffer
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
}

// New builds the websocket handler. delay is the web channel's debounce
// window.
func New(registry *sessionservice.Registry, orchestrator *ai.Orchestrator, delay time.Duration) *Handler {
	h := &Handler{
		registry:     registry,
		orchestrator: orchestrator,
		clients:      make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	h.buffer = buffer.New(delay, h.processTurn)
	return h
}

// RegisterRoutes mounts the chat websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type receivePayload struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type statusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The fronting auth layer hands us the authenticated identity; an
	// unauthenticated connection has no business here.
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	channelKey := uuid.NewString()
	c := &client{conn: conn, userID: userID}

	h.mu.Lock()
	h.clients[channelKey] = c
	h.mu.Unlock()

	log.Printf("[ws] client connected: %s (user=%s)", channelKey, userID)

	h.registry.GetOrCreate(r.Context(), channelKey, userID, sessionservice.Meta{
		ChannelRef: channelKey,
		UserAgent:  r.UserAgent(),
		IPAddress:  r.RemoteAddr,
	})

	defer h.teardown(channelKey)
	h.readLoop(channelKey, c)
}

func (h *Handler) readLoop(channelKey string, c *client) {
	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error on %s: %v", channelKey, err)
			}
			return
		}

		if msg.Type != "sendMessage" || msg.Text == "" {
			continue
		}

		h.registry.Touch(channelKey)
		h.buffer.Enqueue(channelKey, msg.Text)
		h.send(c, outgoingMessage{
			Type: "aiStatus",
			Data: statusPayload{Status: "buffering"},
		})
	}
}

// processTurn is the buffer's flush callback: the quiet period for this
// channel has elapsed.
func (h *Handler) processTurn(channelKey string, messages []string) {
	h.mu.Lock()
	c, ok := h.clients[channelKey]
	h.mu.Unlock()
	if !ok {
		// Channel disconnected between enqueue and flush; the batch dies
		// with it.
		return
	}

	h.send(c, outgoingMessage{
		Type: "aiStatus",
		Data: statusPayload{Status: "thinking", Message: "Sedang memproses pertanyaan Anda..."},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	// The idle sweep may have ended the session while the socket stayed
	// connected. The channel lives as long as its client does, so
	// re-establish the session before completing.
	h.registry.GetOrCreate(ctx, channelKey, c.userID, sessionservice.Meta{
		ChannelRef: channelKey,
	})

	text := h.orchestrator.Complete(ctx, channelKey, messages)
	if text == "" {
		return
	}

	// If the client vanished during the LLM call, the reply is dropped
	// silently; the session sweep takes care of the rest.
	h.mu.Lock()
	c, ok = h.clients[channelKey]
	h.mu.Unlock()
	if !ok {
		log.Printf("[ws] dropping reply for disconnected channel %s", channelKey)
		return
	}

	h.send(c, outgoingMessage{
		Type: "receiveMessage",
		Data: receivePayload{Sender: assistantSender, Text: text, Timestamp: time.Now()},
	})
	h.send(c, outgoingMessage{
		Type: "aiStatus",
		Data: statusPayload{Status: "idle"},
	})
}

func (h *Handler) send(c *client, msg outgoingMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func (h *Handler) teardown(channelKey string) {
	h.mu.Lock()
	c, ok := h.clients[channelKey]
	delete(h.clients, channelKey)
	h.mu.Unlock()

	h.buffer.Cancel(channelKey)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.registry.End(ctx, channelKey)

	if ok {
		c.conn.Close()
	}
	log.Printf("[ws] client disconnected: %s", channelKey)
}
