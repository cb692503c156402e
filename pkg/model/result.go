package model

import "encoding/json"

// SendResult is the outcome of one channel send. Failures are values, not errors.
type SendResult struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Failed builds an unsuccessful SendResult from an error.
func Failed(err error) SendResult {
	return SendResult{Success: false, Error: err.Error()}
}

// DeliveryResult aggregates the request and persistent channel outcomes of one delivery.
type DeliveryResult struct {
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
	APIResult    SendResult `json:"apiResult"`
	SocketResult SendResult `json:"socketResult"`
}
