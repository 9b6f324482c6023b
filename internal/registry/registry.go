// Package registry tracks which physical voice channel currently serves an
// identity. Each operation is one atomic round trip against the shared
// store; a fresh Start supersedes, never merges with, a prior session.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pupiltree/voice-handoff/internal/store"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

const keyPrefix = "voice_session:"

// Record is the stored voice-session state for one identity.
type Record struct {
	SessionID      string `json:"session_id"`
	ChannelRef     string `json:"channel_ref"`
	Active         bool   `json:"active"`
	StartedAtMS    int64  `json:"started_at_ms"`
	LastActivityMS int64  `json:"last_activity_ms"`
}

// Registry is the session registry over the shared store.
type Registry struct {
	store   store.Store
	ttl     time.Duration
	now     func() time.Time
	emitter telemetry.Emitter
}

// Options configures optional registry seams.
type Options struct {
	Now     func() time.Time
	Emitter telemetry.Emitter
}

// New constructs a registry writing records with the given TTL.
func New(kv store.Store, ttl time.Duration, opts Options) (*Registry, error) {
	if kv == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be >0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Emitter == nil {
		opts.Emitter = telemetry.DefaultEmitter()
	}
	return &Registry{store: kv, ttl: ttl, now: opts.Now, emitter: opts.Emitter}, nil
}

// Start upserts the active session for identity, refreshing its TTL. A
// second Start for the same identity replaces the first whole-record.
func (r *Registry) Start(ctx context.Context, identity, sessionID, channelRef string) (string, error) {
	identity = strings.TrimSpace(identity)
	sessionID = strings.TrimSpace(sessionID)
	channelRef = strings.TrimSpace(channelRef)
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}
	if sessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	if channelRef == "" {
		return "", fmt.Errorf("channel_ref is required")
	}

	nowMS := r.now().UnixMilli()
	record := Record{
		SessionID:      sessionID,
		ChannelRef:     channelRef,
		Active:         true,
		StartedAtMS:    nowMS,
		LastActivityMS: nowMS,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode session record: %w", err)
	}
	if err := r.store.Set(ctx, keyPrefix+identity, raw, r.ttl); err != nil {
		return "", err
	}
	r.emitter.EmitLog("registry.start", telemetry.SeverityInfo, "voice session registered",
		map[string]string{"channel_ref": channelRef}, telemetry.Correlation{Identity: identity, SessionID: sessionID, EmittedBy: "registry"})
	return sessionID, nil
}

// End removes the session for identity; ending an absent session is a
// no-op.
func (r *Registry) End(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if err := r.store.Delete(ctx, keyPrefix+identity); err != nil {
		return err
	}
	r.emitter.EmitLog("registry.end", telemetry.SeverityInfo, "voice session ended",
		nil, telemetry.Correlation{Identity: identity, EmittedBy: "registry"})
	return nil
}

// IsActive reports whether identity has a live session record.
func (r *Registry) IsActive(ctx context.Context, identity string) (bool, error) {
	_, ok, err := r.lookup(ctx, identity)
	return ok, err
}

// Resolve returns the channel ref currently serving identity. An absent
// record is reported through ok=false, not an error: callers racing a
// Start must fall back rather than fail hard.
func (r *Registry) Resolve(ctx context.Context, identity string) (string, bool, error) {
	record, ok, err := r.lookup(ctx, identity)
	if err != nil || !ok {
		return "", false, err
	}
	return record.ChannelRef, true, nil
}

// Lookup returns the full session record for identity.
func (r *Registry) Lookup(ctx context.Context, identity string) (Record, bool, error) {
	return r.lookup(ctx, identity)
}

func (r *Registry) lookup(ctx context.Context, identity string) (Record, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Record{}, false, fmt.Errorf("identity is required")
	}
	raw, ok, err := r.store.Get(ctx, keyPrefix+identity)
	if err != nil || !ok {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("decode session record: %w", err)
	}
	if !record.Active {
		return Record{}, false, nil
	}
	return record, true, nil
}
