package handoff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the processing lifecycle status for one identity.
type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends a processing cycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle value.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// NotificationType identifies the purpose of an outbound notification.
type NotificationType string

const (
	NotificationReady        NotificationType = "ready"
	NotificationFailed       NotificationType = "failed"
	NotificationStatusUpdate NotificationType = "status_update"
)

// NotificationMessage is the ephemeral envelope pushed to an active voice
// channel. It is constructed on demand and never persisted.
type NotificationMessage struct {
	Type          NotificationType `json:"type"`
	Identity      string           `json:"identity"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	TimestampMS   int64            `json:"timestamp_ms"`
	CorrelationID string           `json:"correlation_id"`
}

// Validate enforces notification envelope invariants.
func (m NotificationMessage) Validate() error {
	switch m.Type {
	case NotificationReady, NotificationFailed, NotificationStatusUpdate:
	default:
		return fmt.Errorf("invalid notification type: %q", m.Type)
	}
	if strings.TrimSpace(m.Identity) == "" {
		return fmt.Errorf("identity is required")
	}
	if m.TimestampMS <= 0 {
		return fmt.Errorf("timestamp_ms must be >0")
	}
	if strings.TrimSpace(m.CorrelationID) == "" {
		return fmt.Errorf("correlation_id is required")
	}
	return nil
}

// DeliveryStatus classifies a push attempt outcome. None of the values is a
// caller-facing error; the fallback poll path covers undelivered pushes.
type DeliveryStatus string

const (
	DeliveryDelivered       DeliveryStatus = "delivered"
	DeliveryNoActiveChannel DeliveryStatus = "no_active_channel"
	DeliverySendFailed      DeliveryStatus = "send_failed"
)

// InboundEvent is the normalized store-and-forward messaging event.
type InboundEvent struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate enforces inbound envelope invariants shared by webhook and
// gateway ingress.
func (e InboundEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("from is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// NormalizeIdentity reduces a raw sender identity to its stable digits-only
// form used as the correlation key across channels.
func NormalizeIdentity(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
