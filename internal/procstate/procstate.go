// Package procstate holds the TTL-governed per-identity processing state
// machine: NONE -> PENDING -> PROCESSING -> {COMPLETED, FAILED}, with any
// state restartable to PENDING by a fresh request.
package procstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/store"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

const keyPrefix = "processing:"

// record is the stored whole-record value. Logical expiry is carried in
// ttl_expires_at_ms so the read path decides expiry semantics; the physical
// store TTL is armed longer (2x) and only bounds backend garbage.
type record struct {
	Status         handoff.Status  `json:"status"`
	Message        string          `json:"message,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CreatedAtMS    int64           `json:"created_at_ms"`
	TTLExpiresAtMS int64           `json:"ttl_expires_at_ms"`
}

// Snapshot is the read-side view of one identity's processing state.
type Snapshot struct {
	Status        handoff.Status
	Message       string
	Payload       json.RawMessage
	CorrelationID string
	// Expired distinguishes "requested but results timed out" from
	// "never requested": both read as StatusNone.
	Expired     bool
	CreatedAtMS int64
}

// StateStore is the processing state store over the shared KV store.
type StateStore struct {
	store   store.Store
	ttl     time.Duration
	now     func() time.Time
	emitter telemetry.Emitter
}

// Options configures optional state store seams.
type Options struct {
	Now     func() time.Time
	Emitter telemetry.Emitter
}

// New constructs a state store with the given logical result TTL.
func New(kv store.Store, ttl time.Duration, opts Options) (*StateStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("processing ttl must be >0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Emitter == nil {
		opts.Emitter = telemetry.DefaultEmitter()
	}
	return &StateStore{store: kv, ttl: ttl, now: opts.Now, emitter: opts.Emitter}, nil
}

// SetStatus overwrites the whole record for identity and re-arms its TTL.
// The most recent write is authoritative regardless of writer; a fresh
// PENDING that buries an unconsumed terminal result is logged as potential
// result loss but still wins.
func (s *StateStore) SetStatus(ctx context.Context, identity string, status handoff.Status, message string, payload json.RawMessage, correlationID string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if !status.Valid() || status == handoff.StatusNone {
		return fmt.Errorf("invalid status write: %q", status)
	}

	if status == handoff.StatusPending {
		s.warnIfBuryingUnconsumedResult(ctx, identity)
	}

	nowMS := s.now().UnixMilli()
	rec := record{
		Status:         status,
		Message:        message,
		Payload:        payload,
		CorrelationID:  correlationID,
		CreatedAtMS:    nowMS,
		TTLExpiresAtMS: nowMS + s.ttl.Milliseconds(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode processing record: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+identity, raw, 2*s.ttl); err != nil {
		return err
	}
	s.emitter.EmitLog("state.set", telemetry.SeverityInfo, "processing status written",
		map[string]string{"status": string(status)},
		telemetry.Correlation{Identity: identity, CorrelationID: correlationID, EmittedBy: "procstate"})
	return nil
}

// GetStatus returns the current snapshot for identity. A logically expired
// record reads as StatusNone with Expired=true and is purged eagerly rather
// than left for a future sweep.
func (s *StateStore) GetStatus(ctx context.Context, identity string) (Snapshot, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Snapshot{}, fmt.Errorf("identity is required")
	}

	raw, ok, err := s.store.Get(ctx, keyPrefix+identity)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{Status: handoff.StatusNone}, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("decode processing record: %w", err)
	}

	if s.now().UnixMilli() >= rec.TTLExpiresAtMS {
		if err := s.store.Delete(ctx, keyPrefix+identity); err != nil {
			return Snapshot{}, err
		}
		s.emitter.EmitLog("state.expired", telemetry.SeverityInfo, "expired processing record purged on read",
			map[string]string{"status": string(rec.Status)},
			telemetry.Correlation{Identity: identity, CorrelationID: rec.CorrelationID, EmittedBy: "procstate"})
		return Snapshot{Status: handoff.StatusNone, Expired: true}, nil
	}

	return Snapshot{
		Status:        rec.Status,
		Message:       rec.Message,
		Payload:       rec.Payload,
		CorrelationID: rec.CorrelationID,
		CreatedAtMS:   rec.CreatedAtMS,
	}, nil
}

// Clear removes the record for identity regardless of state.
func (s *StateStore) Clear(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return s.store.Delete(ctx, keyPrefix+identity)
}

// warnIfBuryingUnconsumedResult is best-effort observability: the read is
// advisory only and races with concurrent writers, which is acceptable
// because the subsequent Set is still a self-contained overwrite.
func (s *StateStore) warnIfBuryingUnconsumedResult(ctx context.Context, identity string) {
	raw, ok, err := s.store.Get(ctx, keyPrefix+identity)
	if err != nil || !ok {
		return
	}
	var prior record
	if err := json.Unmarshal(raw, &prior); err != nil {
		return
	}
	if !prior.Status.Terminal() || s.now().UnixMilli() >= prior.TTLExpiresAtMS {
		return
	}
	s.emitter.EmitLog("state.overwrite", telemetry.SeverityWarn, "unconsumed terminal result overwritten by new request",
		map[string]string{"prior_status": string(prior.Status)},
		telemetry.Correlation{Identity: identity, CorrelationID: prior.CorrelationID, EmittedBy: "procstate"})
}
