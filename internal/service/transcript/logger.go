// Package transcript persists chat sessions and messages to the logging
// store. The store is optional: when it is not configured every operation
// is a safe no-op returning a neutral value, so callers never branch on
// enablement before calling.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	senderAssistant = "AI"
	senderSystem    = "SYSTEM"

	typeText   = "text"
	typeSystem = "system"
	typeError  = "error"
)

// Logger is the adapter over the chat logging database.
type Logger struct {
	db *sql.DB
}

// SessionRecord is one row of a user's session listing.
type SessionRecord struct {
	SessionID    string     `json:"sessionId"`
	UserID       string     `json:"userId"`
	ChannelRef   string     `json:"channelRef"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Active       bool       `json:"active"`
	MessageCount int64      `json:"messageCount"`
}

// MessageRecord is one logged message.
type MessageRecord struct {
	MessageID      string    `json:"messageId"`
	SessionID      string    `json:"sessionId"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Type           string    `json:"type"`
	Model          string    `json:"model,omitempty"`
	ResponseTimeMs *int64    `json:"responseTimeMs,omitempty"`
	TokenCount     *int64    `json:"tokenCount,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stats summarizes a user's recent chat activity.
type Stats struct {
	TotalSessions     int64    `json:"totalSessions"`
	TotalMessages     int64    `json:"totalMessages"`
	UserMessages      int64    `json:"userMessages"`
	AssistantMessages int64    `json:"assistantMessages"`
	AvgResponseTimeMs *float64 `json:"avgResponseTimeMs"`
	TotalTokensUsed   int64    `json:"totalTokensUsed"`
}

// Open connects to the logging database at path and ensures its schema.
// An empty path yields a disabled logger, which is a valid operating mode.
func Open(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Logger{db: db}, nil
}

// Disabled returns a logger with no backing store.
func Disabled() *Logger {
	return &Logger{}
}

func ensureSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	channel_ref TEXT,
	user_agent TEXT,
	ip_address TEXT,
	session_start_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	session_end_time TIMESTAMP,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS chat_messages (
	message_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	chat_by TEXT NOT NULL,
	chat_script TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	ai_model TEXT,
	response_time_ms INTEGER,
	token_count INTEGER,
	message_timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chat_analytics (
	session_id TEXT PRIMARY KEY,
	session_duration_seconds REAL,
	avg_response_time_ms REAL,
	total_tokens_used INTEGER,
	message_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, message_timestamp);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, session_start_time);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure transcript schema: %w", err)
	}
	return nil
}

// IsEnabled reports whether a logging store is configured.
func (l *Logger) IsEnabled() bool {
	return l != nil && l.db != nil
}

// Close releases the database handle.
func (l *Logger) Close() error {
	if !l.IsEnabled() {
		return nil
	}
	return l.db.Close()
}

// CreateSession allocates a new session row and returns its id. Returns
// an empty id when logging is disabled.
func (l *Logger) CreateSession(ctx context.Context, userID, channelRef, userAgent, ipAddress string) (string, error) {
	if !l.IsEnabled() {
		return "", nil
	}

	sessionID := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, channel_ref, user_agent, ip_address)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, userID, channelRef, userAgent, ipAddress)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// EndSession marks the session ended. Ending an unknown or already-ended
// session is not an error; it reports false.
func (l *Logger) EndSession(ctx context.Context, sessionID string) (bool, error) {
	if !l.IsEnabled() || sessionID == "" {
		return false, nil
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE chat_sessions
		 SET session_end_time = CURRENT_TIMESTAMP, is_active = 0
		 WHERE session_id = ? AND is_active = 1`,
		sessionID)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (l *Logger) logMessage(ctx context.Context, sessionID, sender, text, messageType, model string, responseTimeMs, tokenCount *int64) (string, error) {
	if !l.IsEnabled() || sessionID == "" {
		return "", nil
	}

	messageID := uuid.NewString()
	var modelVal any
	if model != "" {
		modelVal = model
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, chat_by, chat_script, message_type, ai_model, response_time_ms, token_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		messageID, sessionID, sender, text, messageType, modelVal, nullableInt(responseTimeMs), nullableInt(tokenCount))
	if err != nil {
		return "", fmt.Errorf("log message: %w", err)
	}
	return messageID, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// LogUserMessage records one inbound user message.
func (l *Logger) LogUserMessage(ctx context.Context, sessionID, userID, text string) (string, error) {
	return l.logMessage(ctx, sessionID, userID, text, typeText, "", nil, nil)
}

// LogAssistantMessage records one model completion with its latency and,
// when available, token usage.
func (l *Logger) LogAssistantMessage(ctx context.Context, sessionID, text, model string, responseTimeMs int64, tokenCount int64) (string, error) {
	var tokens *int64
	if tokenCount > 0 {
		tokens = &tokenCount
	}
	return l.logMessage(ctx, sessionID, senderAssistant, text, typeText, model, &responseTimeMs, tokens)
}

// LogSystemMessage records a system-originated message such as a greeting.
func (l *Logger) LogSystemMessage(ctx context.Context, sessionID, text string) (string, error) {
	return l.logMessage(ctx, sessionID, senderSystem, text, typeSystem, "", nil, nil)
}

// LogErrorMessage records a user-facing error shown on the channel.
func (l *Logger) LogErrorMessage(ctx context.Context, sessionID, text string) (string, error) {
	return l.logMessage(ctx, sessionID, senderSystem, text, typeError, "", nil, nil)
}

// GetSessionMessages returns up to limit messages of a session in
// chronological order.
func (l *Logger) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if !l.IsEnabled() {
		return []MessageRecord{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT message_id, session_id, chat_by, chat_script, message_type, ai_model, response_time_ms, token_count, message_timestamp
		 FROM chat_messages
		 WHERE session_id = ?
		 ORDER BY message_timestamp ASC
		 LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	messages := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		var model sql.NullString
		var responseTime, tokens sql.NullInt64
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Sender, &m.Text, &m.Type, &model, &responseTime, &tokens, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Model = model.String
		if responseTime.Valid {
			v := responseTime.Int64
			m.ResponseTimeMs = &v
		}
		if tokens.Valid {
			v := tokens.Int64
			m.TokenCount = &v
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetUserSessions returns a user's most recent sessions with message counts.
func (l *Logger) GetUserSessions(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if !l.IsEnabled() {
		return []SessionRecord{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT s.session_id, s.user_id, COALESCE(s.channel_ref, ''), s.session_start_time, s.session_end_time, s.is_active,
		        (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.session_id)
		 FROM chat_sessions s
		 WHERE s.user_id = ?
		 ORDER BY s.session_start_time DESC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		var s SessionRecord
		var end sql.NullTime
		var active int
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.ChannelRef, &s.StartTime, &end, &active, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if end.Valid {
			t := end.Time
			s.EndTime = &t
		}
		s.Active = active == 1
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetUserStats aggregates a user's chat activity over the last days.
func (l *Logger) GetUserStats(ctx context.Context, userID string, days int) (Stats, error) {
	if !l.IsEnabled() {
		return Stats{}, nil
	}
	if days <= 0 {
		days = 7
	}

	row := l.db.QueryRowContext(ctx,
		`SELECT
			COUNT(DISTINCT s.session_id),
			COUNT(m.message_id),
			COUNT(CASE WHEN m.chat_by NOT IN (?, ?) THEN 1 END),
			COUNT(CASE WHEN m.chat_by = ? THEN 1 END),
			AVG(m.response_time_ms),
			COALESCE(SUM(m.token_count), 0)
		 FROM chat_sessions s
		 LEFT JOIN chat_messages m ON m.session_id = s.session_id
		 WHERE s.user_id = ?
		   AND s.session_start_time >= datetime('now', ?)`,
		senderAssistant, senderSystem, senderAssistant, userID, fmt.Sprintf("-%d days", days))

	var stats Stats
	var avg sql.NullFloat64
	if err := row.Scan(&stats.TotalSessions, &stats.TotalMessages, &stats.UserMessages, &stats.AssistantMessages, &avg, &stats.TotalTokensUsed); err != nil {
		return Stats{}, fmt.Errorf("get user stats: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		stats.AvgResponseTimeMs = &v
	}
	return stats, nil
}

// UpdateSessionAnalytics recomputes the session's rollup row.
func (l *Logger) UpdateSessionAnalytics(ctx context.Context, sessionID string) (bool, error) {
	if !l.IsEnabled() || sessionID == "" {
		return false, nil
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_analytics (session_id, session_duration_seconds, avg_response_time_ms, total_tokens_used, message_count)
		 SELECT s.session_id,
		        (julianday(COALESCE(s.session_end_time, CURRENT_TIMESTAMP)) - julianday(s.session_start_time)) * 86400.0,
		        (SELECT AVG(response_time_ms) FROM chat_messages WHERE session_id = s.session_id AND response_time_ms IS NOT NULL),
		        (SELECT COALESCE(SUM(token_count), 0) FROM chat_messages WHERE session_id = s.session_id),
		        (SELECT COUNT(*) FROM chat_messages WHERE session_id = s.session_id)
		 FROM chat_sessions s
		 WHERE s.session_id = ?`,
		sessionID)
	if err != nil {
		return false, fmt.Errorf("update session analytics: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CleanupOldSessions deletes ended sessions older than maxAgeDays along
// with their messages and analytics. Returns how many sessions were removed.
func (l *Logger) CleanupOldSessions(ctx context.Context, maxAgeDays int) (int64, error) {
	if !l.IsEnabled() {
		return 0, nil
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := fmt.Sprintf("-%d days", maxAgeDays)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cleanup old sessions: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT session_id FROM chat_sessions
		WHERE session_start_time < datetime('now', ?) AND is_active = 0`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_analytics WHERE session_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("cleanup analytics: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE session_start_time < datetime('now', ?) AND is_active = 0`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cleanup old sessions: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}
