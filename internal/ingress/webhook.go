package ingress

import (
	"io"
	"net/http"

	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

// webhookAckBody is returned for every processed request. The messaging
// source treats anything else as a delivery failure and redelivers, so
// internal outcomes never change the response.
const webhookAckBody = `{"status":"received"}`

// WebhookHandler terminates the store-and-forward messaging source's HTTP
// callbacks.
type WebhookHandler struct {
	receiver *Receiver
	maxBody  int64
	emitter  telemetry.Emitter
}

// NewWebhookHandler wires the webhook surface over a receiver.
func NewWebhookHandler(cfg Config, receiver *Receiver, emitter telemetry.Emitter) *WebhookHandler {
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &WebhookHandler{receiver: receiver, maxBody: maxBody, emitter: emitter}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		h.emitter.EmitLog("ingress.webhook", telemetry.SeverityWarn, "read body: "+err.Error(), nil, telemetry.Correlation{EmittedBy: "ingress"})
		h.ack(w)
		return
	}

	// Handle logs its own failures; the source is acknowledged regardless
	// so it does not redeliver events we have already decided about.
	_ = h.receiver.Handle(r.Context(), body)
	h.ack(w)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, webhookAckBody)
}
