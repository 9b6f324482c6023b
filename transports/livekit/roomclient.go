package livekit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 64 * 1024

// Room is one live room reported by the room service.
type Room struct {
	Name            string `json:"name"`
	SID             string `json:"sid,omitempty"`
	NumParticipants int    `json:"num_participants,omitempty"`
}

// HTTPClient is the transport seam used for room-service calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RoomClient talks to the LiveKit RoomService twirp API: room listing for
// the naming-convention fallback and reliable in-room data publish.
type RoomClient struct {
	cfg    Config
	client HTTPClient
	now    func() time.Time
}

// NewRoomClient constructs a room-service client.
func NewRoomClient(cfg Config, client HTTPClient, now func() time.Time) (*RoomClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if now == nil {
		now = time.Now
	}
	return &RoomClient{cfg: cfg, client: client, now: now}, nil
}

// ListRooms returns currently active rooms, optionally filtered by name.
func (c *RoomClient) ListRooms(ctx context.Context, names ...string) ([]Room, error) {
	body := map[string]any{}
	if len(names) > 0 {
		body["names"] = names
	}
	var parsed struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.call(ctx, "ListRooms", "", body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Rooms, nil
}

// SendData publishes payload to every current member of room using the
// reliable (ordered, acknowledged) packet kind under the configured topic.
// Transport acceptance is not an application-level consumption guarantee.
func (c *RoomClient) SendData(ctx context.Context, room string, payload []byte) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("room is required")
	}
	body := map[string]any{
		"room":  room,
		"data":  base64.StdEncoding.EncodeToString(payload),
		"kind":  "RELIABLE",
		"topic": c.cfg.Topic,
	}
	return c.call(ctx, "SendData", room, body, &struct{}{})
}

func (c *RoomClient) call(ctx context.Context, method, room string, body any, out any) error {
	token, err := buildAPIToken(c.cfg, room, c.now())
	if err != nil {
		return err
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/twirp/livekit.RoomService/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build room-service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("room-service %s: %w", method, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("room-service %s failed status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	if out != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
	}
	return nil
}
