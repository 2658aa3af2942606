package server

import (
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/messages"
)

// Send delivers an event to one connection. Delivery is best effort: an
// unknown connection or a full buffer drops the message.
func (h *Hub) Send(connID, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.connections[connID]
	if !ok {
		h.logger.Debug("dropping message for unknown connection",
			zap.String("connection_id", connID),
			zap.String("event", event))
		return
	}

	conn.SendJSON(messages.OutboundMessage{Event: event, Payload: payload})
}

// Broadcast delivers an event to every connection in a session's group
func (h *Hub) Broadcast(sessionID, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := messages.OutboundMessage{Event: event, Payload: payload}
	for connID := range h.groups[sessionID] {
		if conn, ok := h.connections[connID]; ok {
			conn.SendJSON(msg)
		}
	}
}

// JoinGroup adds a connection to a session's broadcast group
func (h *Hub) JoinGroup(connID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[sessionID]
	if !ok {
		group = make(map[string]struct{})
		h.groups[sessionID] = group
	}
	group[connID] = struct{}{}
}

// LeaveGroup removes a connection from a session's broadcast group
func (h *Hub) LeaveGroup(connID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[sessionID]
	if !ok {
		return
	}

	delete(group, connID)
	if len(group) == 0 {
		delete(h.groups, sessionID)
	}
}

// IsLive reports whether the connection is still registered
func (h *Hub) IsLive(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.connections[connID]
	return ok
}
