package livekit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Room-service webhook event names this subsystem reacts to.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventRoomFinished      = "room_finished"
)

// WebhookEvent is the subset of the room-service webhook payload the
// session lifecycle needs.
type WebhookEvent struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
		SID  string `json:"sid"`
	} `json:"room"`
	Participant struct {
		Identity string `json:"identity"`
		SID      string `json:"sid"`
	} `json:"participant"`
}

// ParseWebhookEvent decodes and minimally validates a webhook payload.
func ParseWebhookEvent(raw []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if strings.TrimSpace(event.Event) == "" {
		return WebhookEvent{}, fmt.Errorf("webhook event name is required")
	}
	if strings.TrimSpace(event.Room.Name) == "" {
		return WebhookEvent{}, fmt.Errorf("webhook room name is required")
	}
	return event, nil
}
