// Package poll implements the consumer-side recovery path: any consumer
// that cannot trust it received a push reads the processing state store on
// an interval until terminal status or a bounded wait elapses.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pupiltree/voice-handoff/internal/procstate"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

// ErrAwaitTimeout reports that the bounded wait elapsed without a terminal
// status. The last observed snapshot accompanies it.
var ErrAwaitTimeout = errors.New("await timeout before terminal status")

// StatusReader is the state store read seam.
type StatusReader interface {
	GetStatus(ctx context.Context, identity string) (procstate.Snapshot, error)
}

// Config bounds the poll loop. Both knobs are externally tunable; the loop
// performs at most MaxWait/Interval reads.
type Config struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Validate enforces poll config invariants.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("poll interval must be >0")
	}
	if c.MaxWait < c.Interval {
		return fmt.Errorf("poll max_wait must be >= interval")
	}
	return nil
}

// Poller periodically reads one identity's processing state.
type Poller struct {
	states  StatusReader
	cfg     Config
	emitter telemetry.Emitter
}

// New constructs a poller over the given state reader.
func New(states StatusReader, cfg Config, emitter telemetry.Emitter) (*Poller, error) {
	if states == nil {
		return nil, fmt.Errorf("status reader is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &Poller{states: states, cfg: cfg, emitter: emitter}, nil
}

// Await reads immediately and then on every interval until a terminal
// status, an expired record, context cancellation, or the bounded wait
// elapses. A record that expired mid-cycle ends the wait: the result it
// would have carried is gone, so polling on cannot recover it. A push
// racing this loop is harmless: both paths read the same authoritative
// store, so a stale pre-completion read is simply followed by another
// poll.
func (p *Poller) Await(ctx context.Context, identity string) (procstate.Snapshot, error) {
	correlation := telemetry.Correlation{Identity: identity, EmittedBy: "poll"}
	deadline := time.NewTimer(p.cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var last procstate.Snapshot
	polls := 0
	for {
		snapshot, err := p.states.GetStatus(ctx, identity)
		if err != nil {
			return last, err
		}
		last = snapshot
		polls++
		if snapshot.Status.Terminal() || snapshot.Expired {
			outcome := "terminal"
			if snapshot.Expired {
				outcome = "expired"
			}
			p.emitter.EmitMetric("poll.reads", float64(polls), "count", map[string]string{"outcome": outcome}, correlation)
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			p.emitter.EmitLog("poll.timeout", telemetry.SeverityInfo, "bounded wait elapsed without terminal status",
				map[string]string{"last_status": string(last.Status)}, correlation)
			return last, ErrAwaitTimeout
		case <-ticker.C:
		}
	}
}
