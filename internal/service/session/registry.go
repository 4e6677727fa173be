// Package session owns the live conversation state for every connected
// channel, web socket or WhatsApp phone number alike.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/skorbantu/advisor/backend/internal/model/chat"
)

// Greetings seeded into a fresh session, localized for new versus
// returning users.
const (
	GreetingNewUser   = "Selamat datang! Saya adalah asisten kredit AI Anda. Tanyakan apa saja tentang data kredit simulasi Anda."
	GreetingReturning = "Hai! Selamat datang kembali. Ada yang bisa saya bantu?"
)

// TranscriptLogger is the slice of the transcript store the registry
// needs for session lifecycle. Failures are tolerated everywhere: chat
// logging never blocks conversation.
type TranscriptLogger interface {
	IsEnabled() bool
	CreateSession(ctx context.Context, userID, channelRef, userAgent, ipAddress string) (string, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
	LogSystemMessage(ctx context.Context, sessionID, text string) (string, error)
	UpdateSessionAnalytics(ctx context.Context, sessionID string) (bool, error)
}

// KnowledgeProvider supplies the static system preamble seeded at index 0
// of every history.
type KnowledgeProvider interface {
	Content() string
}

// Meta carries channel facts recorded at session creation.
type Meta struct {
	ChannelRef string
	UserAgent  string
	IPAddress  string
	NewUser    bool
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	ActiveSessions int              `json:"activeSessions"`
	Sessions       []SessionSummary `json:"sessions"`
}

// SessionSummary describes one live session without its history contents.
type SessionSummary struct {
	ChannelKey   string    `json:"channelKey"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
}

// Registry maps channel keys to live sessions. It is the sole owner of
// session state; other components read snapshots and mutate through its
// methods.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*chat.Session
	logger       TranscriptLogger
	knowledge    KnowledgeProvider
	historyLimit int
}

// NewRegistry builds an empty registry. historyLimit caps user/assistant
// entries per history; system entries are never trimmed.
func NewRegistry(logger TranscriptLogger, knowledge KnowledgeProvider, historyLimit int) *Registry {
	if historyLimit < 2 {
		historyLimit = 2
	}
	return &Registry{
		sessions:     make(map[string]*chat.Session),
		logger:       logger,
		knowledge:    knowledge,
		historyLimit: historyLimit,
	}
}

// GetOrCreate returns the session for channelKey, creating it on first
// contact. Creation asks the transcript store for a session id but
// tolerates its absence; the returned session then simply has no id.
func (r *Registry) GetOrCreate(ctx context.Context, channelKey, userID string, meta Meta) chat.Session {
	r.mu.RLock()
	if s, ok := r.sessions[channelKey]; ok {
		snapshot := snapshotOf(s)
		r.mu.RUnlock()
		return snapshot
	}
	r.mu.RUnlock()

	// Allocate the transcript session outside the lock; it is a database
	// round trip.
	sessionID, err := r.logger.CreateSession(ctx, userID, meta.ChannelRef, meta.UserAgent, meta.IPAddress)
	if err != nil {
		log.Printf("[registry] transcript session creation failed for %s: %v", channelKey, err)
		sessionID = ""
	}

	greeting := GreetingReturning
	if meta.NewUser {
		greeting = GreetingNewUser
	}
	if sessionID != "" {
		if _, err := r.logger.LogSystemMessage(ctx, sessionID, greeting); err != nil {
			log.Printf("[registry] greeting log failed for session %s: %v", sessionID, err)
		}
	}

	now := time.Now()
	created := &chat.Session{
		SessionID:  sessionID,
		ChannelKey: channelKey,
		UserID:     userID,
		History: []chat.Turn{
			chat.SystemTurn(r.knowledge.Content()),
			chat.AssistantTurn(greeting),
		},
		NewUser:      meta.NewUser,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	if existing, ok := r.sessions[channelKey]; ok {
		// Another goroutine won the creation race. Keep its session and
		// release the transcript row we just allocated.
		snapshot := snapshotOf(existing)
		r.mu.Unlock()
		if sessionID != "" {
			if _, err := r.logger.EndSession(ctx, sessionID); err != nil {
				log.Printf("[registry] closing duplicate transcript session %s failed: %v", sessionID, err)
			}
		}
		return snapshot
	}
	r.sessions[channelKey] = created
	snapshot := snapshotOf(created)
	r.mu.Unlock()

	log.Printf("[registry] session created for %s (user=%s, transcript=%q)", channelKey, userID, sessionID)
	return snapshot
}

// Get returns a snapshot of the session for channelKey, if present.
func (r *Registry) Get(channelKey string) (chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[channelKey]
	if !ok {
		return chat.Session{}, false
	}
	return snapshotOf(s), true
}

// AppendTurn adds one turn to a session's history, trims it to the cap,
// and refreshes the activity timestamp. Appending to an unknown channel
// is a no-op; the channel was torn down while its reply was in flight.
func (r *Registry) AppendTurn(channelKey, role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[channelKey]
	if !ok {
		return
	}

	s.History = append(s.History, chat.Turn{Role: role, Content: content})
	s.History = trimHistory(s.History, r.historyLimit)
	s.LastActivity = time.Now()
}

// Touch refreshes the session's activity timestamp.
func (r *Registry) Touch(channelKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[channelKey]; ok {
		s.LastActivity = time.Now()
	}
}

// End removes the session and closes its transcript session best-effort.
// Reports whether a session existed for the key.
func (r *Registry) End(ctx context.Context, channelKey string) bool {
	r.mu.Lock()
	s, ok := r.sessions[channelKey]
	if ok {
		delete(r.sessions, channelKey)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.closeTranscript(ctx, s)
	log.Printf("[registry] session ended for %s", channelKey)
	return true
}

// SweepIdle ends every session idle longer than maxIdle and reports how
// many were removed. Safe to run concurrently with normal traffic: keys
// are collected first, then each session's activity timestamp is
// re-checked under the lock before it is destroyed, so a session that
// regained activity after the scan survives.
func (r *Registry) SweepIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	expired := make([]string, 0)
	for key, s := range r.sessions {
		if s.LastActivity.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	r.mu.RUnlock()

	ended := 0
	for _, key := range expired {
		if r.endIfIdleSince(ctx, key, cutoff) {
			ended++
		}
	}
	if ended > 0 {
		log.Printf("[registry] swept %d idle sessions", ended)
	}
	return ended
}

// endIfIdleSince removes the session only if it is still idle past
// cutoff at the moment of deletion.
func (r *Registry) endIfIdleSince(ctx context.Context, channelKey string, cutoff time.Time) bool {
	r.mu.Lock()
	s, ok := r.sessions[channelKey]
	if !ok || !s.LastActivity.Before(cutoff) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, channelKey)
	r.mu.Unlock()

	r.closeTranscript(ctx, s)
	log.Printf("[registry] session ended for %s", channelKey)
	return true
}

func (r *Registry) closeTranscript(ctx context.Context, s *chat.Session) {
	if s.SessionID == "" {
		return
	}
	if _, err := r.logger.LogSystemMessage(ctx, s.SessionID, "Chat session ended"); err != nil {
		log.Printf("[registry] end-of-session log failed for %s: %v", s.SessionID, err)
	}
	if _, err := r.logger.EndSession(ctx, s.SessionID); err != nil {
		log.Printf("[registry] ending transcript session %s failed: %v", s.SessionID, err)
	}
	if _, err := r.logger.UpdateSessionAnalytics(ctx, s.SessionID); err != nil {
		log.Printf("[registry] analytics update failed for %s: %v", s.SessionID, err)
	}
}

// Stats summarizes the registry for the status endpoint.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		ActiveSessions: len(r.sessions),
		Sessions:       make([]SessionSummary, 0, len(r.sessions)),
	}
	for key, s := range r.sessions {
		stats.Sessions = append(stats.Sessions, SessionSummary{
			ChannelKey:   key,
			UserID:       s.UserID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			MessageCount: len(s.History),
		})
	}
	return stats
}

func snapshotOf(s *chat.Session) chat.Session {
	snapshot := *s
	snapshot.History = make([]chat.Turn, len(s.History))
	copy(snapshot.History, s.History)
	return snapshot
}

// trimHistory drops the oldest user/assistant entries once their count
// exceeds limit. System entries, the knowledge-base preamble at index 0
// included, are never dropped.
func trimHistory(history []chat.Turn, limit int) []chat.Turn {
	count := 0
	for _, turn := range history {
		if turn.Role != chat.RoleSystem {
			count++
		}
	}
	if count <= limit {
		return history
	}

	trimmed := make([]chat.Turn, 0, len(history))
	excess := count - limit
	for _, turn := range history {
		if excess > 0 && turn.Role != chat.RoleSystem {
			excess--
			continue
		}
		trimmed = append(trimmed, turn)
	}
	return trimmed
}
