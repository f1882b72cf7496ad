package status

import (
	"encoding/json"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgAlerts   MessageType = "alerts"
)

// Message is what the broadcaster writes to websocket clients.
type Message struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

// Envelope is the receive-side view of a Message; the payload is decoded
// once the type is known.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type SnapshotPayload struct {
	Session session.Snapshot   `json:"session"`
	Process *diag.ProcessStats `json:"process,omitempty"`
}

// AlertsPayload carries alerts that arrived since the previous push, most
// recent first.
type AlertsPayload struct {
	SessionID string        `json:"sessionId"`
	Alerts    []alert.Alert `json:"alerts"`
}
