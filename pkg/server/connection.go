package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/messages"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration // Must be less than ReadTimeout
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

// Upgrader builds a websocket upgrader with the configured buffer sizes
func (c ConnectionConfig) Upgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  c.ReadBufferSize,
		WriteBufferSize: c.WriteBufferSize,
		CheckOrigin:     checkOrigin,
	}
}

// Connection is one client socket. ID is opaque and unique for the life of
// the process.
type Connection struct {
	ID   string
	ws   *websocket.Conn // The underlying Websocket connection
	hub  *Hub
	send chan []byte // Buffered channel of outbound messages.

	// sessionID is the session this connection is attached to. Only the hub
	// loop reads or writes it.
	sessionID string

	config ConnectionConfig
	logger *zap.Logger
}

// NewConnection wraps an upgraded socket
func NewConnection(ws *websocket.Conn, hub *Hub, config ConnectionConfig, logger *zap.Logger) *Connection {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}

	id := uuid.NewString()

	return &Connection{
		ID:     id,
		ws:     ws,
		hub:    hub,
		send:   make(chan []byte, config.SendBufferSize),
		config: config,
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// ReadPump handles inbound messages from the client. A read error or a
// missed pong ends the pump and unregisters the connection.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Debug("failed to parse inbound JSON", zap.Error(err))
			c.hub.Send(c.ID, messages.EventError, messages.ErrorPayload{Message: "malformed message"})
			continue
		}

		if !c.hub.Dispatch(InboundHubMessage{Conn: c, Message: inbound}) {
			return
		}
	}
}

// WritePump handles outbound messages to the client and keeps the peer
// alive with pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Channel closed by the hub
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// SendJSON queues a message without blocking. It returns false when the
// buffer is full and the message was dropped.
func (c *Connection) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}
