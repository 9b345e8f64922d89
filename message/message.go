// Package message defines the wire envelopes exchanged with the otus node
// fleet over the broker, and the packet records the console builds from
// captured-packet messages.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope schema version published and accepted.
const Version = "v1"

// LabelPrefix marks sideband header keys that carry classification labels.
// Keys with this prefix are merged into the record label map with the
// prefix stripped; all other sideband keys are retained under Envelope.
const LabelPrefix = "l."

// CommandEnvelope is the versioned command message published to a node
// group's command topic. Immutable once published.
type CommandEnvelope struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"`
	Command   Command         `json:"command"`
	Timestamp string          `json:"timestamp"` // RFC3339 UTC
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// NewCommandEnvelope builds a command envelope with a fresh request id.
// A nil payload is encoded as an empty object, matching what the node
// handlers expect.
func NewCommandEnvelope(target string, command Command, payload json.RawMessage) CommandEnvelope {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return CommandEnvelope{
		Version:   Version,
		Target:    target,
		Command:   command,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: uuid.NewString(),
		Payload:   payload,
	}
}

// ResponseEnvelope is the command response consumed from the shared response
// topic. RequestID should match a prior CommandEnvelope, but unmatched, late,
// or duplicate responses are normal, not errors.
type ResponseEnvelope struct {
	Version   string          `json:"version"`
	Source    string          `json:"source"`
	Command   Command         `json:"command"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`

	// ReceivedAt is stamped by the console on receipt, Unix milliseconds.
	ReceivedAt int64 `json:"_received_at,omitempty"`
}

// IsError reports whether the node reported a failure. This is still a
// successful correlation; the failure content travels in the envelope.
func (r *ResponseEnvelope) IsError() bool {
	return r.Error != ""
}

// PacketRecord is one captured-packet record as kept in a channel's history
// buffer and fanned out to live subscribers. Created on receipt, immutable
// thereafter; copied by value into subscriber queues.
type PacketRecord struct {
	Channel string `json:"channel"`

	// Timestamp is normalized to Unix milliseconds on ingest.
	Timestamp  int64 `json:"timestamp"`
	ReceivedAt int64 `json:"_received_at"`

	// Labels holds classification labels, including sideband keys that
	// carried the label prefix.
	Labels map[string]string `json:"labels,omitempty"`

	// Envelope holds the remaining sideband metadata keys.
	Envelope map[string]string `json:"_envelope,omitempty"`

	// Payload is the decoded message body.
	Payload map[string]any `json:"payload,omitempty"`
}
