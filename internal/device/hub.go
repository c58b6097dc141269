package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lumen/internal/logging"
)

const writeTimeout = 5 * time.Second

// Hub is the WebSocket dispatcher: it tracks one live connection per device
// and pushes command envelopes down it. Connection acceptance (upgrading,
// auth) happens in the transport layer; the hub only owns attached sockets.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*websocket.Conn)}
}

// Attach registers a device connection, closing any previous one for the
// same device.
func (h *Hub) Attach(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[deviceID]
	h.conns[deviceID] = conn
	h.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	logging.S(logging.CategoryDevice).Infow("device attached", "device_id", deviceID)
}

// Detach removes a device connection if it is still the registered one.
func (h *Hub) Detach(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[deviceID] == conn {
		delete(h.conns, deviceID)
	}
	h.mu.Unlock()
	logging.S(logging.CategoryDevice).Infow("device detached", "device_id", deviceID)
}

// Connected reports whether a device has a live connection.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[deviceID] != nil
}

// Send pushes an envelope to its device. The envelope's command id is
// echoed in the result either way so callers can correlate.
func (h *Hub) Send(env Envelope) DispatchResult {
	h.mu.Lock()
	conn := h.conns[env.DeviceID]
	h.mu.Unlock()

	if conn == nil {
		return DispatchResult{
			CommandID: env.CommandID,
			Error:     fmt.Sprintf("device %s is not connected", env.DeviceID),
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		logging.S(logging.CategoryDevice).Warnw("dispatch failed",
			"device_id", env.DeviceID, "command_id", env.CommandID, "error", err)
		return DispatchResult{CommandID: env.CommandID, Error: err.Error()}
	}
	return DispatchResult{OK: true, CommandID: env.CommandID}
}
