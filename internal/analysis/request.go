package analysis

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pupiltree/voice-handoff/api/handoff"
)

// eventPayload is the document envelope carried inside an inbound event.
type eventPayload struct {
	Text      string `json:"text"`
	Documents []struct {
		MIME    string `json:"mime"`
		DataB64 string `json:"data_b64"`
	} `json:"documents"`
}

// RequestFromEvent decodes an inbound event's payload into an analysis
// request. Events with no documents and no text are rejected.
func RequestFromEvent(event handoff.InboundEvent) (Request, error) {
	var payload eventPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return Request{}, fmt.Errorf("decode event payload: %w", err)
		}
	}

	req := Request{
		Identity: handoff.NormalizeIdentity(event.From),
		Prompt:   strings.TrimSpace(payload.Text),
	}
	for i, doc := range payload.Documents {
		data, err := base64.StdEncoding.DecodeString(doc.DataB64)
		if err != nil {
			return Request{}, fmt.Errorf("decode document %d: %w", i, err)
		}
		if len(data) == 0 {
			return Request{}, fmt.Errorf("document %d is empty", i)
		}
		mime := strings.TrimSpace(doc.MIME)
		if mime == "" {
			mime = "image/jpeg"
		}
		req.Attachments = append(req.Attachments, Attachment{MIME: mime, Data: data})
	}
	if req.Prompt == "" && len(req.Attachments) == 0 {
		return Request{}, fmt.Errorf("event %s carries nothing to analyze", event.ID)
	}
	return req, nil
}
