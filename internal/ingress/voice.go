package ingress

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
	"github.com/pupiltree/voice-handoff/transports/livekit"
)

// SessionRegistry is the registry lifecycle seam driven by voice-channel
// events.
type SessionRegistry interface {
	Start(ctx context.Context, identity, sessionID, channelRef string) (string, error)
	End(ctx context.Context, identity string) error
}

// VoiceWebhookHandler turns room-service webhook events into session
// registry lifecycle calls: a participant joining a voice room starts the
// session for the identity encoded in the room name, leaving or the room
// finishing ends it.
type VoiceWebhookHandler struct {
	sessions   SessionRegistry
	roomPrefix string
	maxBody    int64
	emitter    telemetry.Emitter
}

// NewVoiceWebhookHandler wires the voice-event surface.
func NewVoiceWebhookHandler(sessions SessionRegistry, roomPrefix string, emitter telemetry.Emitter) *VoiceWebhookHandler {
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &VoiceWebhookHandler{
		sessions:   sessions,
		roomPrefix: roomPrefix,
		maxBody:    1 << 20,
		emitter:    emitter,
	}
}

func (h *VoiceWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	event, err := livekit.ParseWebhookEvent(body)
	if err != nil {
		h.emitter.EmitLog("ingress.voice", telemetry.SeverityWarn, "rejected webhook event: "+err.Error(), nil, telemetry.Correlation{EmittedBy: "ingress"})
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}

	identity := h.identityForEvent(event)
	if identity == "" {
		// Rooms outside our naming convention are someone else's traffic.
		w.WriteHeader(http.StatusOK)
		return
	}
	correlation := telemetry.Correlation{Identity: identity, ChannelRef: event.Room.Name, EmittedBy: "ingress"}

	switch event.Event {
	case livekit.EventParticipantJoined:
		sessionID := event.Participant.SID
		if sessionID == "" {
			sessionID = event.Room.SID
		}
		if _, err := h.sessions.Start(r.Context(), identity, sessionID, event.Room.Name); err != nil {
			h.emitter.EmitLog("ingress.voice", telemetry.SeverityError, "session start: "+err.Error(), nil, correlation)
			http.Error(w, "session start failed", http.StatusInternalServerError)
			return
		}
	case livekit.EventParticipantLeft, livekit.EventRoomFinished:
		if err := h.sessions.End(r.Context(), identity); err != nil {
			h.emitter.EmitLog("ingress.voice", telemetry.SeverityError, "session end: "+err.Error(), nil, correlation)
			http.Error(w, "session end failed", http.StatusInternalServerError)
			return
		}
	default:
		// Other lifecycle events are acknowledged and ignored.
	}
	w.WriteHeader(http.StatusOK)
}

// identityForEvent derives the identity from the room-name convention,
// falling back to the participant identity's digits.
func (h *VoiceWebhookHandler) identityForEvent(event livekit.WebhookEvent) string {
	if strings.HasPrefix(event.Room.Name, h.roomPrefix) {
		if identity := handoff.NormalizeIdentity(strings.TrimPrefix(event.Room.Name, h.roomPrefix)); identity != "" {
			return identity
		}
	}
	return handoff.NormalizeIdentity(event.Participant.Identity)
}
