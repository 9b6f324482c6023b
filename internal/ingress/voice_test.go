package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pupiltree/voice-handoff/internal/registry"
	"github.com/pupiltree/voice-handoff/internal/store/memstore"
)

func newVoiceFixture(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	sessions, err := registry.New(memstore.New(), 30*time.Minute, registry.Options{})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	server := httptest.NewServer(NewVoiceWebhookHandler(sessions, "voice-", nil))
	t.Cleanup(server.Close)
	return server, sessions
}

func postVoice(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	return resp
}

func TestVoiceWebhookSessionLifecycle(t *testing.T) {
	t.Parallel()

	server, sessions := newVoiceFixture(t)
	ctx := context.Background()

	joined := `{"event":"participant_joined","room":{"name":"voice-15550020","sid":"RM_1"},"participant":{"identity":"+1 555-0020","sid":"PA_1"}}`
	if resp := postVoice(t, server.URL, joined); resp.StatusCode != http.StatusOK {
		t.Fatalf("joined status = %d", resp.StatusCode)
	}

	channelRef, ok, err := sessions.Resolve(ctx, "15550020")
	if err != nil || !ok {
		t.Fatalf("Resolve after join: ref=%q ok=%v err=%v", channelRef, ok, err)
	}
	if channelRef != "voice-15550020" {
		t.Fatalf("channel ref = %q", channelRef)
	}

	left := `{"event":"participant_left","room":{"name":"voice-15550020"},"participant":{"identity":"+1 555-0020"}}`
	if resp := postVoice(t, server.URL, left); resp.StatusCode != http.StatusOK {
		t.Fatalf("left status = %d", resp.StatusCode)
	}
	if _, ok, err := sessions.Resolve(ctx, "15550020"); err != nil || ok {
		t.Fatalf("Resolve after leave: ok=%v err=%v, want absent", ok, err)
	}

	// Ending an already-absent session is idempotent.
	if resp := postVoice(t, server.URL, left); resp.StatusCode != http.StatusOK {
		t.Fatalf("repeated leave status = %d", resp.StatusCode)
	}
}

func TestVoiceWebhookIgnoresForeignRooms(t *testing.T) {
	t.Parallel()

	server, sessions := newVoiceFixture(t)

	foreign := `{"event":"participant_joined","room":{"name":"other-room"},"participant":{"identity":"operator"}}`
	if resp := postVoice(t, server.URL, foreign); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok, _ := sessions.Resolve(context.Background(), "operator"); ok {
		t.Fatal("foreign room must not create a session")
	}
}

func TestVoiceWebhookRejectsBadPayload(t *testing.T) {
	t.Parallel()

	server, _ := newVoiceFixture(t)
	for _, body := range []string{`not json`, `{"room":{"name":"voice-1"}}`, `{"event":"participant_joined"}`} {
		if resp := postVoice(t, server.URL, body); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d for %q, want 400", resp.StatusCode, body)
		}
	}
}

func TestVoiceWebhookRejectsNonPost(t *testing.T) {
	t.Parallel()

	server, _ := newVoiceFixture(t)
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
