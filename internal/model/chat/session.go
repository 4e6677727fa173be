package chat

import "time"

// Session captures one ongoing conversation bound to a channel key
// (websocket connection id or normalized phone number).
type Session struct {
	// SessionID is allocated by the transcript store. Empty when chat
	// logging is disabled or its creation failed; the conversation still
	// functions without it.
	SessionID    string    `json:"sessionId"`
	ChannelKey   string    `json:"channelKey"`
	UserID       string    `json:"userId"`
	History      []Turn    `json:"history"`
	NewUser      bool      `json:"newUser"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}
