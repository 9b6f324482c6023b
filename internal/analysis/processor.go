package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/bridge"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
	"github.com/pupiltree/voice-handoff/internal/work"
)

// StatusWriter is the processing state store write seam.
type StatusWriter interface {
	SetStatus(ctx context.Context, identity string, status handoff.Status, message string, payload json.RawMessage, correlationID string) error
}

// Notifier is the push-bridge seam.
type Notifier interface {
	Notify(ctx context.Context, msg handoff.NotificationMessage) bridge.Result
}

// Processor drives the full detached analysis lifecycle for one admitted
// inbound event: PENDING at dispatch, PROCESSING at work start, a terminal
// status at the task boundary, then a best-effort push. No failure inside
// the detached task propagates to the already-acknowledged ingress path.
//
// Runs are serialized per identity: a request arriving while one is in
// flight waits for it and then runs, so the newest request always reaches
// its own terminal state. Only the newest waiter is kept; an unstarted
// predecessor is superseded the same way a fresh terminal write supersedes
// an unconsumed result.
type Processor struct {
	states   StatusWriter
	notifier Notifier
	analyzer Analyzer
	pool     *work.Pool
	timeout  time.Duration
	now      func() time.Time
	emitter  telemetry.Emitter

	mu      sync.Mutex
	running map[string]struct{}
	waiting map[string]pendingRun
}

// pendingRun is a dispatched request waiting for the identity's in-flight
// run to finish.
type pendingRun struct {
	eventID       string
	correlationID string
	req           Request
}

// ProcessorDeps wires processor seams.
type ProcessorDeps struct {
	States   StatusWriter
	Notifier Notifier
	Analyzer Analyzer
	Pool     *work.Pool
	Timeout  time.Duration
	Now      func() time.Time
	Emitter  telemetry.Emitter
}

// NewProcessor constructs a processor.
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.States == nil {
		return nil, fmt.Errorf("status writer is required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("work pool is required")
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Emitter == nil {
		deps.Emitter = telemetry.DefaultEmitter()
	}
	return &Processor{
		states:   deps.States,
		notifier: deps.Notifier,
		analyzer: deps.Analyzer,
		pool:     deps.Pool,
		timeout:  deps.Timeout,
		now:      deps.Now,
		emitter:  deps.Emitter,
		running:  make(map[string]struct{}),
		waiting:  make(map[string]pendingRun),
	}, nil
}

// DispatchEvent decodes the event payload and dispatches it. A payload we
// cannot decode still gets a terminal FAILED write so pollers see a
// resolution instead of silence.
func (p *Processor) DispatchEvent(ctx context.Context, event handoff.InboundEvent) error {
	req, err := RequestFromEvent(event)
	if err != nil {
		identity := handoff.NormalizeIdentity(event.From)
		if identity != "" {
			if setErr := p.states.SetStatus(ctx, identity, handoff.StatusFailed, "the attached document could not be read, please resend it", nil, event.ID); setErr != nil {
				p.emitter.EmitLog("analysis.dispatch", telemetry.SeverityError, "record payload failure: "+setErr.Error(), nil, telemetry.Correlation{Identity: identity, EventID: event.ID, EmittedBy: "analysis"})
			}
		}
		return fmt.Errorf("event %s: %w", event.ID, err)
	}
	return p.Dispatch(ctx, event, req)
}

// Dispatch writes PENDING synchronously and hands the analysis to the work
// pool as detached work. The returned error covers only the dispatch step
// itself; the caller has already acknowledged upstream and must not relay
// it there.
func (p *Processor) Dispatch(ctx context.Context, event handoff.InboundEvent, req Request) error {
	identity := handoff.NormalizeIdentity(event.From)
	if identity == "" {
		return fmt.Errorf("event %s has no usable identity", event.ID)
	}
	req.Identity = identity
	correlationID := event.ID
	correlation := telemetry.Correlation{Identity: identity, EventID: event.ID, CorrelationID: correlationID, EmittedBy: "analysis"}

	if err := p.states.SetStatus(ctx, identity, handoff.StatusPending, "analysis queued", nil, correlationID); err != nil {
		return fmt.Errorf("write pending state: %w", err)
	}

	run := pendingRun{eventID: event.ID, correlationID: correlationID, req: req}
	p.mu.Lock()
	_, busy := p.running[identity]
	var superseded pendingRun
	var hadWaiter bool
	if busy {
		superseded, hadWaiter = p.waiting[identity]
		p.waiting[identity] = run
	} else {
		p.running[identity] = struct{}{}
	}
	p.mu.Unlock()

	if busy {
		if hadWaiter {
			p.emitter.EmitLog("analysis.dispatch", telemetry.SeverityWarn, "queued request superseded before it started",
				map[string]string{"superseded_event_id": superseded.eventID}, correlation)
		}
		p.emitter.EmitLog("analysis.dispatch", telemetry.SeverityInfo, "analysis in flight, request queued behind it", nil, correlation)
		return nil
	}
	if err := p.submitRun(ctx, identity, run); err != nil {
		p.runNext(identity)
		return err
	}
	return nil
}

// submitRun hands one run to the pool. On submission failure the request
// still resolves: a terminal FAILED is written for its correlation before
// the error is returned.
func (p *Processor) submitRun(ctx context.Context, identity string, run pendingRun) error {
	err := p.pool.Submit(work.Task{
		ID: run.eventID,
		Run: func() {
			defer p.runNext(identity)
			p.process(identity, run.correlationID, run.req)
		},
	})
	if err == nil {
		return nil
	}
	correlation := telemetry.Correlation{Identity: identity, EventID: run.eventID, CorrelationID: run.correlationID, EmittedBy: "analysis"}
	p.emitter.EmitLog("analysis.dispatch", telemetry.SeverityError, "dispatch failed: "+err.Error(), nil, correlation)
	if setErr := p.states.SetStatus(ctx, identity, handoff.StatusFailed, "analysis could not be scheduled, please retry", nil, run.correlationID); setErr != nil {
		p.emitter.EmitLog("analysis.dispatch", telemetry.SeverityError, "record dispatch failure: "+setErr.Error(), nil, correlation)
	}
	return err
}

// runNext starts the identity's queued request, if any, once the current
// run has fully finished (terminal write and push included). Queued runs
// therefore never interleave with an in-flight one.
func (p *Processor) runNext(identity string) {
	for {
		p.mu.Lock()
		next, ok := p.waiting[identity]
		if !ok {
			delete(p.running, identity)
			p.mu.Unlock()
			return
		}
		delete(p.waiting, identity)
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.submitRun(ctx, identity, next)
		cancel()
		if err == nil {
			return
		}
	}
}

// process is the detached task body. Its outer recover is the catch-all
// boundary: every fault is converted into a FAILED state write and stops
// here.
func (p *Processor) process(identity, correlationID string, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	correlation := telemetry.Correlation{Identity: identity, CorrelationID: correlationID, EmittedBy: "analysis"}

	defer func() {
		if r := recover(); r != nil {
			p.emitter.EmitLog("analysis.panic", telemetry.SeverityError, fmt.Sprintf("analysis panicked: %v", r), nil, correlation)
			p.finish(ctx, identity, correlationID, handoff.StatusFailed, "analysis failed unexpectedly, please retry", nil)
		}
	}()

	if err := p.states.SetStatus(ctx, identity, handoff.StatusProcessing, "analysis in progress", nil, correlationID); err != nil {
		p.emitter.EmitLog("analysis.process", telemetry.SeverityError, "write processing state: "+err.Error(), nil, correlation)
	}

	started := p.now()
	result, err := p.analyzer.Analyze(ctx, req)
	p.emitter.EmitMetric("analysis.duration_ms", float64(p.now().Sub(started).Milliseconds()), "ms", nil, correlation)

	if err != nil {
		p.emitter.EmitLog("analysis.process", telemetry.SeverityWarn, "analysis failed: "+err.Error(), nil, correlation)
		p.finish(ctx, identity, correlationID, handoff.StatusFailed, "analysis failed, please resend the document", nil)
		return
	}
	p.finish(ctx, identity, correlationID, handoff.StatusCompleted, "analysis complete", result.Summary)
}

// finish records the terminal status first, then attempts the push. The
// ordering matters: a poller arriving after a missed push must already see
// the terminal state.
func (p *Processor) finish(ctx context.Context, identity, correlationID string, status handoff.Status, message string, payload json.RawMessage) {
	correlation := telemetry.Correlation{Identity: identity, CorrelationID: correlationID, EmittedBy: "analysis"}
	if err := p.states.SetStatus(ctx, identity, status, message, payload, correlationID); err != nil {
		p.emitter.EmitLog("analysis.finish", telemetry.SeverityError, "write terminal state: "+err.Error(), nil, correlation)
		return
	}

	notificationType := handoff.NotificationReady
	if status == handoff.StatusFailed {
		notificationType = handoff.NotificationFailed
	}
	result := p.notifier.Notify(ctx, handoff.NotificationMessage{
		Type:          notificationType,
		Identity:      identity,
		Payload:       payload,
		TimestampMS:   p.now().UnixMilli(),
		CorrelationID: correlationID,
	})
	p.emitter.EmitLog("analysis.finish", telemetry.SeverityInfo, "terminal state recorded",
		map[string]string{"status": string(status), "delivery": string(result.Status)}, correlation)
}
