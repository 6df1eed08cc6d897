package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elagerway/magpipe/internal/inbox"
	"github.com/elagerway/magpipe/internal/record"
)

// Envelope is the payload of one record change event.
type Envelope struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"` // "insert" or "update"
	Record     json.RawMessage `json:"record"`

	// VisitorName rides along on chat message events so the session does
	// not need a separate fetch.
	VisitorName string `json:"visitor_name,omitempty"`
}

// Reconciler applies bus envelopes onto the engine. All paths go through
// the engine's own entry points, so redelivered or out-of-order events are
// absorbed the same way the bulk load absorbs them.
type Reconciler struct {
	Engine *inbox.Engine
	Norm   *record.Normalizer
	Logger *slog.Logger

	// OnCallNeedsSync is called when an applied call record still has
	// recording artifacts outstanding. Nil disables the hook.
	OnCallNeedsSync func(recordID string)
}

// Apply decodes and applies one envelope. It returns the affected
// conversation key.
func (r *Reconciler) Apply(data json.RawMessage) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Collection {
	case "sms_messages":
		var m record.SmsMessage
		if err := json.Unmarshal(env.Record, &m); err != nil {
			return "", fmt.Errorf("decoding sms event: %w", err)
		}
		return r.Engine.Ingest(r.Norm.Sms(m))

	case "call_records":
		var rec record.CallRecord
		if err := json.Unmarshal(env.Record, &rec); err != nil {
			return "", fmt.Errorf("decoding call event: %w", err)
		}
		needsSync, err := r.Engine.ApplyCallRecord(rec)
		if err != nil {
			return "", err
		}
		if needsSync && r.OnCallNeedsSync != nil {
			r.OnCallNeedsSync(rec.ID)
		}
		return "call_" + rec.ID, nil

	case "chat_messages":
		var m record.ChatMessage
		if err := json.Unmarshal(env.Record, &m); err != nil {
			return "", fmt.Errorf("decoding chat event: %w", err)
		}
		return r.Engine.Ingest(r.Norm.ChatMessage(m, env.VisitorName))

	case "email_messages":
		var m record.EmailMessage
		if err := json.Unmarshal(env.Record, &m); err != nil {
			return "", fmt.Errorf("decoding email event: %w", err)
		}
		return r.Engine.Ingest(r.Norm.Email(m))
	}

	if r.Logger != nil {
		r.Logger.Debug("ignoring event for unknown collection", "collection", env.Collection)
	}
	return "", nil
}
