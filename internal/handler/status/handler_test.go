package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/skorbantu/advisor/backend/internal/service/knowledge"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
	"github.com/skorbantu/advisor/backend/internal/service/transcript"
)

type staticStatus map[string]bool

func (s staticStatus) ConfigStatus() map[string]bool { return s }

type emptyKnowledge struct{}

func (emptyKnowledge) Content() string { return "kb" }

func newTestServer(t *testing.T, webhook, aiService staticStatus, kb *knowledge.Base) *httptest.Server {
	t.Helper()
	registry := sessionservice.NewRegistry(transcript.Disabled(), emptyKnowledge{}, 20)
	r := chi.NewRouter()
	New(webhook, aiService, registry, kb).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t,
		staticStatus{"isConfigured": true},
		staticStatus{"isConfigured": false},
		knowledge.NewBase(""))

	resp, err := http.Get(srv.URL + "/whatsapp/status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Webhook             map[string]bool `json:"webhook"`
		AI                  map[string]bool `json:"ai"`
		KnowledgeBaseLoaded bool            `json:"knowledgeBaseLoaded"`
		IsFullyConfigured   bool            `json:"isFullyConfigured"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Webhook["isConfigured"] || body.AI["isConfigured"] {
		t.Fatalf("body = %+v", body)
	}
	if body.IsFullyConfigured {
		t.Fatal("half-configured service must not report fully configured")
	}
	if body.KnowledgeBaseLoaded {
		t.Fatal("fallback knowledge base must not report loaded")
	}
}

func TestRefreshKB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.txt")
	if err := os.WriteFile(path, []byte("versi pertama"), 0o644); err != nil {
		t.Fatal(err)
	}
	kb := knowledge.NewBase(path)
	srv := newTestServer(t, staticStatus{}, staticStatus{}, kb)

	if err := os.WriteFile(path, []byte("versi kedua"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/whatsapp/refresh-kb", "application/json", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if kb.Content() != "versi kedua" {
		t.Fatalf("content after refresh = %q", kb.Content())
	}
}

func TestRefreshKBFailure(t *testing.T) {
	srv := newTestServer(t, staticStatus{}, staticStatus{}, knowledge.NewBase(""))

	resp, err := http.Post(srv.URL+"/whatsapp/refresh-kb", "application/json", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
