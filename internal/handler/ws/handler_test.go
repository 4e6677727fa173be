package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/skorbantu/advisor/backend/internal/model/chat"
	"github.com/skorbantu/advisor/backend/internal/service/ai"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
	"github.com/skorbantu/advisor/backend/internal/service/transcript"
)

type fixedCompleter struct {
	text string
}

func (f fixedCompleter) Complete(context.Context, []chat.Turn) (ai.Completion, error) {
	return ai.Completion{Text: f.text}, nil
}

func (f fixedCompleter) Model() string { return "test-model" }

type fixedContexts struct{}

func (fixedContexts) BuildContext(context.Context, string) (string, error) {
	return "credit data", nil
}

type fixedKnowledge struct{}

func (fixedKnowledge) Content() string { return "kb" }

func startTestServer(t *testing.T, replyText string, delay time.Duration) (*httptest.Server, *sessionservice.Registry) {
	t.Helper()

	registry := sessionservice.NewRegistry(transcript.Disabled(), fixedKnowledge{}, 20)
	orchestrator := ai.NewOrchestrator(fixedCompleter{text: replyText}, fixedContexts{}, registry, transcript.Disabled(), true, true, time.Second)
	handler := New(registry, orchestrator, delay)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestConnectRequiresUserID(t *testing.T) {
	srv, _ := startTestServer(t, "", 50*time.Millisecond)

	resp, err := http.Get(srv.URL + "/ws/chat")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatRoundTrip(t *testing.T) {
	srv, registry := startTestServer(t, "Skor kredit Anda 720.", 50*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat?userId=user_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "sendMessage", "text": "berapa skor saya?"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// buffering ack, thinking once the window elapses, then the reply and
	// the idle status.
	wantTypes := []string{"aiStatus", "aiStatus", "receiveMessage", "aiStatus"}
	var reply receivePayload
	for i, want := range wantTypes {
		env := readEnvelope(t, conn)
		if env.Type != want {
			t.Fatalf("message %d: type %q, want %q", i, env.Type, want)
		}
		if env.Type == "receiveMessage" {
			if err := json.Unmarshal(env.Data, &reply); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
		}
	}

	if reply.Sender != assistantSender {
		t.Fatalf("reply sender = %q", reply.Sender)
	}
	if reply.Text != "Skor kredit Anda 720." {
		t.Fatalf("reply text = %q", reply.Text)
	}

	stats := registry.Stats()
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected 1 active session, got %d", stats.ActiveSessions)
	}
}

func TestReplyAfterIdleSweep(t *testing.T) {
	srv, registry := startTestServer(t, "Masih di sini.", 40*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat?userId=user_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Stats().ActiveSessions != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The sweep ends the session, but the socket is still connected; the
	// next message must get a reply, not vanish.
	if ended := registry.SweepIdle(context.Background(), 0); ended != 1 {
		t.Fatalf("sweep ended %d sessions, want 1", ended)
	}

	if err := conn.WriteJSON(map[string]string{"type": "sendMessage", "text": "masih ada?"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reply receivePayload
	for {
		env := readEnvelope(t, conn)
		if env.Type != "receiveMessage" {
			continue
		}
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		break
	}
	if reply.Text != "Masih di sini." {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if registry.Stats().ActiveSessions != 1 {
		t.Fatalf("session not re-established, active = %d", registry.Stats().ActiveSessions)
	}
}

func TestDisconnectEndsSession(t *testing.T) {
	srv, registry := startTestServer(t, "ok", time.Hour)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat?userId=user_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for registry.Stats().ActiveSessions != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A buffered message at disconnect time must die with the channel.
	if err := conn.WriteJSON(map[string]string{"type": "sendMessage", "text": "halo"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for registry.Stats().ActiveSessions != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not ended after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNonChatMessagesIgnored(t *testing.T) {
	srv, _ := startTestServer(t, "ok", 40*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat?userId=user_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "sendMessage", "text": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected no response to ignored messages, got %+v", env)
	}
}
