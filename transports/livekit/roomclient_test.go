package livekit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testConfig(url string) Config {
	return Config{
		URL:            url,
		APIKey:         "key",
		APISecret:      "secret",
		RoomPrefix:     "voice-",
		Topic:          "analysis_result",
		RequestTimeout: 5 * time.Second,
	}
}

func TestListRoomsParsesRoomNames(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/twirp/livekit.RoomService/ListRooms" {
			t.Errorf("unexpected path: %s", got)
		}
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("expected bearer authorization, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[{"name":"voice-919876543210","num_participants":2},{"name":"voice-14155550100"}]}`))
	}))
	defer server.Close()

	client, err := NewRoomClient(testConfig(server.URL), nil, fixedNow)
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	rooms, err := client.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Name != "voice-919876543210" || rooms[0].NumParticipants != 2 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}

func TestSendDataPublishesReliablePacket(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/twirp/livekit.RoomService/SendData" {
			t.Errorf("unexpected path: %s", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewRoomClient(testConfig(server.URL), nil, fixedNow)
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	if err := client.SendData(context.Background(), "voice-919876543210", []byte(`{"type":"ready"}`)); err != nil {
		t.Fatalf("send data: %v", err)
	}

	if captured["room"] != "voice-919876543210" {
		t.Fatalf("unexpected room: %v", captured["room"])
	}
	if captured["kind"] != "RELIABLE" {
		t.Fatalf("reliable delivery required, got %v", captured["kind"])
	}
	if captured["topic"] != "analysis_result" {
		t.Fatalf("unexpected topic: %v", captured["topic"])
	}
	decoded, err := base64.StdEncoding.DecodeString(captured["data"].(string))
	if err != nil || string(decoded) != `{"type":"ready"}` {
		t.Fatalf("unexpected data payload: %v (%v)", captured["data"], err)
	}
}

func TestSendDataRequiresRoom(t *testing.T) {
	t.Parallel()

	client, err := NewRoomClient(testConfig("http://localhost:7880"), nil, fixedNow)
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	if err := client.SendData(context.Background(), "  ", nil); err == nil {
		t.Fatalf("empty room must be rejected")
	}
}

func TestCallSurfacesErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthenticated"}`))
	}))
	defer server.Close()

	client, err := NewRoomClient(testConfig(server.URL), nil, fixedNow)
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	if _, err := client.ListRooms(context.Background()); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestBuildAPITokenCarriesRoomGrants(t *testing.T) {
	t.Parallel()

	token, err := buildAPIToken(testConfig("http://localhost:7880"), "voice-42", fixedNow())
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three jwt segments, got %d", len(parts))
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var payload struct {
		Iss   string `json:"iss"`
		Video struct {
			RoomList  bool   `json:"roomList"`
			RoomAdmin bool   `json:"roomAdmin"`
			Room      string `json:"room"`
		} `json:"video"`
	}
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Iss != "key" || !payload.Video.RoomList || !payload.Video.RoomAdmin || payload.Video.Room != "voice-42" {
		t.Fatalf("unexpected grants: %+v", payload)
	}
}

func fixedNow() time.Time {
	return time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
}
