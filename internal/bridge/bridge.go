// Package bridge pushes analysis results to whichever physical voice
// channel currently serves an identity. Delivery is best-effort by design:
// undelivered pushes are never retried here because the fallback poll path
// converges on the same state store.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
	"github.com/pupiltree/voice-handoff/transports/livekit"
)

// Transport is the room-service seam: live-channel listing for the naming
// fallback plus reliable in-room data publish.
type Transport interface {
	ListRooms(ctx context.Context, names ...string) ([]livekit.Room, error)
	SendData(ctx context.Context, room string, payload []byte) error
}

// Announcer synthesizes a short spoken rendition of a notification.
type Announcer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Resolver is the registry seam used for the fast-path channel lookup.
type Resolver interface {
	Resolve(ctx context.Context, identity string) (string, bool, error)
}

// Config controls bridge behavior.
type Config struct {
	RoomPrefix string
}

// Validate enforces bridge config invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RoomPrefix) == "" {
		return fmt.Errorf("room_prefix is required")
	}
	return nil
}

// Dependencies wires the bridge seams.
type Dependencies struct {
	Registry  Resolver
	Transport Transport
	Announcer Announcer
	Now       func() time.Time
	Emitter   telemetry.Emitter
}

// Result reports one push attempt.
type Result struct {
	Status     handoff.DeliveryStatus
	ChannelRef string
}

// envelope is the wire form published to the room under the transport
// topic.
type envelope struct {
	handoff.NotificationMessage
	// AnnouncementB64 carries an optional short spoken rendition (mp3).
	AnnouncementB64 string `json:"announcement_b64,omitempty"`
}

// Bridge delivers notification messages to active voice channels.
type Bridge struct {
	cfg       Config
	registry  Resolver
	transport Transport
	announcer Announcer
	now       func() time.Time
	emitter   telemetry.Emitter
}

// New constructs a notification bridge.
func New(cfg Config, deps Dependencies) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Emitter == nil {
		deps.Emitter = telemetry.DefaultEmitter()
	}
	return &Bridge{
		cfg:       cfg,
		registry:  deps.Registry,
		transport: deps.Transport,
		announcer: deps.Announcer,
		now:       deps.Now,
		emitter:   deps.Emitter,
	}, nil
}

// Notify resolves the channel for msg.Identity and publishes the envelope.
// All outcomes are expected: no_active_channel and send_failed are logged
// and left to the fallback poller, never escalated or retried.
func (b *Bridge) Notify(ctx context.Context, msg handoff.NotificationMessage) Result {
	correlation := telemetry.Correlation{
		Identity:      msg.Identity,
		CorrelationID: msg.CorrelationID,
		EmittedBy:     "bridge",
	}
	if err := msg.Validate(); err != nil {
		b.emitter.EmitLog("bridge.notify", telemetry.SeverityError, "invalid notification message: "+err.Error(), nil, correlation)
		return Result{Status: handoff.DeliverySendFailed}
	}

	channelRef, ok := b.resolveChannel(ctx, msg.Identity, correlation)
	if !ok {
		b.emitter.EmitLog("bridge.notify", telemetry.SeverityInfo, "no active channel for identity",
			map[string]string{"delivery": string(handoff.DeliveryNoActiveChannel)}, correlation)
		return Result{Status: handoff.DeliveryNoActiveChannel}
	}
	correlation.ChannelRef = channelRef

	payload, err := b.buildEnvelope(ctx, msg, correlation)
	if err != nil {
		b.emitter.EmitLog("bridge.notify", telemetry.SeverityError, "encode notification envelope: "+err.Error(), nil, correlation)
		return Result{Status: handoff.DeliverySendFailed, ChannelRef: channelRef}
	}

	if err := b.transport.SendData(ctx, channelRef, payload); err != nil {
		b.emitter.EmitLog("bridge.notify", telemetry.SeverityWarn, "transport send failed: "+err.Error(),
			map[string]string{"delivery": string(handoff.DeliverySendFailed)}, correlation)
		return Result{Status: handoff.DeliverySendFailed, ChannelRef: channelRef}
	}

	b.emitter.EmitLog("bridge.notify", telemetry.SeverityInfo, "notification delivered",
		map[string]string{"delivery": string(handoff.DeliveryDelivered), "type": string(msg.Type)}, correlation)
	return Result{Status: handoff.DeliveryDelivered, ChannelRef: channelRef}
}

// resolveChannel is the two-tier lookup: explicit registry first, then the
// deterministic naming convention matched against live rooms. The fallback
// exists because a session can attach to the transport before (or without
// ever) registering itself.
func (b *Bridge) resolveChannel(ctx context.Context, identity string, correlation telemetry.Correlation) (string, bool) {
	channelRef, ok, err := b.registry.Resolve(ctx, identity)
	if err != nil {
		b.emitter.EmitLog("bridge.resolve", telemetry.SeverityWarn, "registry resolve failed: "+err.Error(), nil, correlation)
	}
	if ok {
		return channelRef, true
	}

	rooms, err := b.transport.ListRooms(ctx)
	if err != nil {
		b.emitter.EmitLog("bridge.resolve", telemetry.SeverityWarn, "room listing failed: "+err.Error(), nil, correlation)
		return "", false
	}
	room, ok := livekit.FindRoomForIdentity(rooms, b.cfg.RoomPrefix, identity)
	if ok {
		b.emitter.EmitLog("bridge.resolve", telemetry.SeverityInfo, "channel resolved by naming convention",
			map[string]string{"channel_ref": room}, correlation)
	}
	return room, ok
}

func (b *Bridge) buildEnvelope(ctx context.Context, msg handoff.NotificationMessage, correlation telemetry.Correlation) ([]byte, error) {
	env := envelope{NotificationMessage: msg}
	if b.announcer != nil && msg.Type == handoff.NotificationReady {
		audio, err := b.announcer.Synthesize(ctx, "Your analysis results are ready.")
		if err != nil {
			// Degrade to a data-only notification.
			b.emitter.EmitLog("bridge.announce", telemetry.SeverityWarn, "announcement synthesis failed: "+err.Error(), nil, correlation)
		} else if len(audio) > 0 {
			env.AnnouncementB64 = base64.StdEncoding.EncodeToString(audio)
		}
	}
	return json.Marshal(env)
}
