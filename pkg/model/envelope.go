package model

import "encoding/json"

// EventSendKey is the socket event carrying a KeyPayload from client to backend.
const EventSendKey = "sendKey"

// Envelope frames every socket message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
