// Package events defines the messages exchanged with WebSocket clients.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Run status changes; Data carries the run snapshot
	MessageTypeOperationSnapshot MessageType = "operation:snapshot"
	MessageTypeOperationComplete MessageType = "operation:complete"
	MessageTypeOperationError    MessageType = "operation:error"

	// Connection messages
	MessageTypeConnect   MessageType = "connect"
	MessageTypeError     MessageType = "error"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeSubscribe MessageType = "subscribe"
)

// Message is the envelope for every server to client message
type Message struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// ClientMessage is what clients may send. A subscribe with an empty RunID
// clears the filter.
type ClientMessage struct {
	Type  MessageType `json:"type"`
	RunID string      `json:"run_id,omitempty"`
}

// ConnectData is sent once after a client registers
type ConnectData struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
	RunID    string `json:"run_id,omitempty"`
}

// ErrorData is the payload of MessageTypeError
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}
