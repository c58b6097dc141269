// Package device resolves spoken device names to registered devices and
// serializes commands into the envelope the display hardware consumes.
package device

import (
	"time"

	"github.com/google/uuid"
)

// Device is one controllable endpoint as supplied by the caller's context.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"is_online"`
}

// Envelope is the wire shape pushed to a device.
type Envelope struct {
	DeviceID    string         `json:"device_id"`
	CommandType string         `json:"command_type"`
	Parameters  map[string]any `json:"parameters"`
	CommandID   string         `json:"command_id"`
	IssuedAt    string         `json:"issued_at"`
}

// NewEnvelope builds a command envelope with a fresh command id and an
// ISO-8601 timestamp.
func NewEnvelope(deviceID, commandType string, parameters map[string]any) Envelope {
	return Envelope{
		DeviceID:    deviceID,
		CommandType: commandType,
		Parameters:  parameters,
		CommandID:   uuid.NewString(),
		IssuedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

// DispatchResult reports one send attempt.
type DispatchResult struct {
	OK        bool   `json:"ok"`
	CommandID string `json:"command_id"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher pushes envelopes to devices. The transport lives outside the
// intent core; tests and the CLI use in-process implementations.
type Dispatcher interface {
	Send(env Envelope) DispatchResult
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(env Envelope) DispatchResult

func (f DispatcherFunc) Send(env Envelope) DispatchResult { return f(env) }
