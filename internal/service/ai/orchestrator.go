package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/skorbantu/advisor/backend/internal/model/chat"
)

// User-facing texts, localized as the product ships them. Every failure
// mode gets its own message so the user can tell a busy system from a
// broken one.
const (
	MsgDatabaseNotConfigured = "Maaf, konfigurasi database belum selesai."
	MsgAINotConfigured       = "Maaf, konfigurasi AI admin belum selesai."
	MsgGenericFailure        = "Maaf, terjadi kesalahan saat memproses permintaan Anda."
	MsgBusy                  = "Maaf, sistem sedang sibuk. Silakan coba lagi dalam beberapa saat."
	MsgTimeout               = "Maaf, respons AI membutuhkan waktu terlalu lama. Silakan coba lagi."
	MsgNoResponse            = "Maaf, saya tidak bisa merespons saat ini."
)

const creditContextPrefix = "Current User's Simulated Credit Data:\n"

// ContextBuilder supplies the per-user credit context. It is called
// fresh on every turn; the underlying data may have changed.
type ContextBuilder interface {
	BuildContext(ctx context.Context, userID string) (string, error)
}

// SessionStore is the slice of the session registry the orchestrator
// uses. It references sessions by channel key and never holds one.
type SessionStore interface {
	Get(channelKey string) (chat.Session, bool)
	AppendTurn(channelKey, role, content string)
}

// TranscriptLogger records both sides of the turn. Calls run in the
// background; a logging failure never reaches the user-facing path.
type TranscriptLogger interface {
	LogUserMessage(ctx context.Context, sessionID, userID, text string) (string, error)
	LogAssistantMessage(ctx context.Context, sessionID, text, model string, responseTimeMs, tokenCount int64) (string, error)
	LogErrorMessage(ctx context.Context, sessionID, text string) (string, error)
}

// Orchestrator drives one conversation turn: user turns into history,
// fresh credit context, the LLM call, the assistant turn back into
// history, transcript records for all of it.
type Orchestrator struct {
	completer    Completer
	contexts     ContextBuilder
	sessions     SessionStore
	logger       TranscriptLogger
	aiEnabled   bool
	creditReady bool
	timeout     time.Duration

	logWG sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. aiEnabled and creditReady
// reflect startup configuration; when either is false every turn gets
// the corresponding apology instead of a crash.
func NewOrchestrator(completer Completer, contexts ContextBuilder, sessions SessionStore, logger TranscriptLogger, aiEnabled, creditReady bool, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		completer:   completer,
		contexts:    contexts,
		sessions:    sessions,
		logger:      logger,
		aiEnabled:   aiEnabled,
		creditReady: creditReady,
		timeout:     timeout,
	}
}

// Complete processes one debounced batch for a channel and returns the
// text to deliver. It never returns an error: every failure mode maps to
// a user-facing message, and failed turns keep the user's messages in
// history so the next attempt still sees them.
func (o *Orchestrator) Complete(ctx context.Context, channelKey string, newMessages []string) string {
	session, ok := o.sessions.Get(channelKey)
	if !ok {
		log.Printf("[ai] dropping batch for unknown channel %s", channelKey)
		return ""
	}

	// User turns go into history before anything can fail, so a broken
	// completion still leaves what the user said on record.
	for _, text := range newMessages {
		o.sessions.AppendTurn(channelKey, chat.RoleUser, text)
		o.logAsync(func(lctx context.Context) error {
			_, err := o.logger.LogUserMessage(lctx, session.SessionID, session.UserID, text)
			return err
		})
	}

	if !o.creditReady {
		log.Printf("[ai] credit database not configured, refusing turn for %s", channelKey)
		return o.failTurn(session.SessionID, MsgDatabaseNotConfigured)
	}
	if !o.aiEnabled {
		log.Printf("[ai] completion API key not configured, refusing turn for %s", channelKey)
		return o.failTurn(session.SessionID, MsgAINotConfigured)
	}

	creditContext, err := o.contexts.BuildContext(ctx, session.UserID)
	if err != nil {
		log.Printf("[ai] credit context failed for user %s: %v", session.UserID, err)
		return o.failTurn(session.SessionID, MsgGenericFailure)
	}

	// Re-read so the payload includes the turns appended above.
	session, ok = o.sessions.Get(channelKey)
	if !ok {
		return ""
	}

	payload := make([]chat.Turn, 0, len(session.History)+1)
	payload = append(payload, session.History[0])
	payload = append(payload, chat.SystemTurn(creditContextPrefix+creditContext))
	payload = append(payload, session.History[1:]...)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	completion, err := o.completer.Complete(callCtx, payload)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		log.Printf("[ai] completion failed for %s after %dms: %v", channelKey, latency, err)
		switch {
		case errors.Is(err, ErrRateLimited):
			return o.failTurn(session.SessionID, MsgBusy)
		case errors.Is(err, context.DeadlineExceeded):
			return o.failTurn(session.SessionID, MsgTimeout)
		default:
			return o.failTurn(session.SessionID, MsgGenericFailure)
		}
	}

	text := completion.Text
	if strings.TrimSpace(text) == "" {
		// Unexpected response shape; never surface a raw empty string.
		text = MsgNoResponse
	}

	o.sessions.AppendTurn(channelKey, chat.RoleAssistant, text)

	model := o.completer.Model()
	tokens := completion.TokenCount
	o.logAsync(func(lctx context.Context) error {
		_, err := o.logger.LogAssistantMessage(lctx, session.SessionID, text, model, latency, tokens)
		return err
	})

	log.Printf("[ai] completion for %s in %dms (model=%s, tokens=%d)", channelKey, latency, model, tokens)
	return text
}

// failTurn records the error event and hands back the apology. The turn
// ends here; the session stays open.
func (o *Orchestrator) failTurn(sessionID, message string) string {
	o.logAsync(func(lctx context.Context) error {
		_, err := o.logger.LogErrorMessage(lctx, sessionID, message)
		return err
	})
	return message
}

// logAsync runs a transcript write in the background with its own
// timeout, capturing any failure in the local log.
func (o *Orchestrator) logAsync(write func(ctx context.Context) error) {
	o.logWG.Add(1)
	go func() {
		defer o.logWG.Done()
		lctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := write(lctx); err != nil {
			log.Printf("[ai] transcript write failed: %v", err)
		}
	}()
}

// Wait blocks until pending transcript writes finish. Called on shutdown
// and by tests.
func (o *Orchestrator) Wait() {
	o.logWG.Wait()
}

// ConfigStatus reports whether the orchestrator's collaborators are
// configured, for the status endpoint.
func (o *Orchestrator) ConfigStatus() map[string]bool {
	return map[string]bool{
		"completionAPI":  o.aiEnabled,
		"creditDatabase": o.creditReady,
		"isConfigured":   o.aiEnabled && o.creditReady,
	}
}
