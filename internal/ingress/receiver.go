package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

// inboundEventSchema is the wire contract for the at-least-once messaging
// source. Extra top-level fields are tolerated; payload shape is left to
// the analysis layer.
const inboundEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "inbound-event.schema.json",
  "type": "object",
  "required": ["id", "from", "type"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "from": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "payload": {"type": "object"}
  }
}`

// Admitter is the dedup gate seam.
type Admitter interface {
	Admit(id string) bool
}

// Dispatcher hands an admitted event to the detached analysis path.
type Dispatcher interface {
	Dispatch(ctx context.Context, event handoff.InboundEvent) error
}

// Receiver is the shared intake pipeline behind both the webhook and the
// gateway client: parse, schema-validate, dedup, dispatch.
type Receiver struct {
	gate       Admitter
	dispatcher Dispatcher
	schema     *jsonschema.Schema
	emitter    telemetry.Emitter
}

// ReceiverOptions carries optional seams.
type ReceiverOptions struct {
	Emitter telemetry.Emitter
}

// NewReceiver compiles the embedded envelope schema and wires the pipeline.
func NewReceiver(gate Admitter, dispatcher Dispatcher, opts ReceiverOptions) (*Receiver, error) {
	if gate == nil {
		return nil, fmt.Errorf("dedup gate is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Emitter == nil {
		opts.Emitter = telemetry.DefaultEmitter()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inbound-event.schema.json", strings.NewReader(inboundEventSchema)); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	schema, err := compiler.Compile("inbound-event.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	return &Receiver{
		gate:       gate,
		dispatcher: dispatcher,
		schema:     schema,
		emitter:    opts.Emitter,
	}, nil
}

// Handle runs one raw envelope through the intake pipeline. The returned
// error reports why the event went no further; callers on acknowledged
// paths log it and still respond success.
func (r *Receiver) Handle(ctx context.Context, raw []byte) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		r.emitter.EmitLog("ingress.parse", telemetry.SeverityWarn, "malformed envelope: "+err.Error(), nil, telemetry.Correlation{EmittedBy: "ingress"})
		return fmt.Errorf("parse envelope: %w", err)
	}
	if err := r.schema.Validate(decoded); err != nil {
		r.emitter.EmitLog("ingress.schema", telemetry.SeverityWarn, "envelope rejected by schema: "+err.Error(), nil, telemetry.Correlation{EmittedBy: "ingress"})
		return fmt.Errorf("envelope schema: %w", err)
	}

	var event handoff.InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := event.Validate(); err != nil {
		r.emitter.EmitLog("ingress.validate", telemetry.SeverityWarn, "invalid event: "+err.Error(), nil, telemetry.Correlation{EventID: event.ID, EmittedBy: "ingress"})
		return fmt.Errorf("validate event: %w", err)
	}

	correlation := telemetry.Correlation{
		Identity:  handoff.NormalizeIdentity(event.From),
		EventID:   event.ID,
		EmittedBy: "ingress",
	}
	if !r.gate.Admit(event.ID) {
		r.emitter.EmitLog("ingress.dedup", telemetry.SeverityDebug, "duplicate event dropped", nil, correlation)
		r.emitter.EmitMetric("ingress.duplicates", 1, "count", nil, correlation)
		return nil
	}

	if err := r.dispatcher.Dispatch(ctx, event); err != nil {
		r.emitter.EmitLog("ingress.dispatch", telemetry.SeverityError, "dispatch failed: "+err.Error(), nil, correlation)
		return fmt.Errorf("dispatch event %s: %w", event.ID, err)
	}
	r.emitter.EmitMetric("ingress.admitted", 1, "count", nil, correlation)
	return nil
}
