// Package server is the connection coordinator: it owns every socket and
// routes client events to sessions and the matchmaker from a single loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/matchmaker"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/repository"
	"github.com/tecu23/match-server/pkg/session"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // raw JSON
}

type clockTick struct {
	session    *session.Session
	generation uint64
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Connections int            `json:"connections"`
	Sessions    []session.Info `json:"sessions"`
	Searching   bool           `json:"searching"`
}

// HubConfig configures the sessions a hub creates
type HubConfig struct {
	// Session is the template for new sessions. The hub fills in the
	// transport, dispatcher, publisher and logger.
	Session session.Options

	// KeepWithSpectators keeps a session with no confirmed player while
	// spectators remain attached.
	KeepWithSpectators bool
}

// Hub keeps track of all active connections and groups them by session.
// Sessions and the matchmaker are only touched from Run, which serializes
// inbound messages, disconnects and clock ticks.
type Hub struct {
	mu          sync.RWMutex                   // Protects connections and groups
	connections map[string]*Connection         // Registered connections
	groups      map[string]map[string]struct{} // session id -> connection ids

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Client events to route
	ticks      chan clockTick         // Clock ticks handed over by session clocks
	stats      chan chan Stats        // Stats requests from the HTTP side

	done     chan struct{}
	stopOnce sync.Once

	sessions           *repository.InMemorySessionRepository
	matchmaker         *matchmaker.Matchmaker
	keepWithSpectators bool

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a hub with its own session registry and matchmaker
func NewHub(cfg HubConfig, publisher *events.Publisher, logger *zap.Logger) *Hub {
	h := &Hub{
		connections:        make(map[string]*Connection),
		groups:             make(map[string]map[string]struct{}),
		register:           make(chan *Connection),
		unregister:         make(chan *Connection),
		inbound:            make(chan InboundHubMessage),
		ticks:              make(chan clockTick, 64),
		stats:              make(chan chan Stats),
		done:               make(chan struct{}),
		keepWithSpectators: cfg.KeepWithSpectators,
		publisher:          publisher,
		logger:             logger,
	}

	opts := cfg.Session
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	opts.Transport = h
	opts.Dispatch = h.dispatchTick
	opts.Publisher = publisher
	opts.Logger = logger

	h.sessions = repository.NewInMemoryRepository(func(id string) *session.Session {
		return session.New(id, opts)
	}, publisher, logger)
	h.matchmaker = matchmaker.New(h.sessions, h, opts.Clock, publisher, logger)

	return h
}

// Run is the main execution of the hub. It returns when ctx is cancelled or
// Shutdown is called.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return

		case <-h.done:
			return

		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case tick := <-h.ticks:
			h.handleTick(tick)

		case reply := <-h.stats:
			reply <- h.collectStats()
		}
	}
}

// Register hands a new connection to the hub loop
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister hands a closed connection to the hub loop
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Dispatch queues a client event. It returns false once the hub has stopped.
func (h *Hub) Dispatch(msg InboundHubMessage) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Stats asks the hub loop for a snapshot
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)

	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, errors.New("hub stopped")
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Shutdown stops the hub loop. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.logger.Info("hub shutting down")
	})
}

// dispatchTick runs on a clock's ticker goroutine
func (h *Hub) dispatchTick(s *session.Session, generation uint64) {
	select {
	case h.ticks <- clockTick{session: s, generation: generation}:
	case <-h.done:
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID),
		zap.Int("connections", count))

	h.Send(conn.ID, messages.EventConnected, messages.ConnectedPayload{
		ConnectionID: conn.ID,
	})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.RLock()
	_, ok := h.connections[conn.ID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	h.matchmaker.Cancel(conn.ID)

	// Remove the connection before vacating so its seat resolves as gone
	h.mu.Lock()
	delete(h.connections, conn.ID)
	close(conn.send)
	count := len(h.connections)
	h.mu.Unlock()

	h.leaveSession(conn)

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID),
		zap.Int("connections", count))

	h.publisher.Publish(events.Event{
		Type: events.EventConnectionClosed,
		Payload: map[string]string{
			"connection_id": conn.ID,
		},
	})
}

// handleInbound decodes and routes a message from a client
func (h *Hub) handleInbound(msg InboundHubMessage) {
	h.mu.RLock()
	_, registered := h.connections[msg.Conn.ID]
	h.mu.RUnlock()
	if !registered {
		return
	}

	switch msg.Message.Type {
	case messages.TypeJoinSession:
		var payload messages.JoinSessionPayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(msg.Conn, "invalid join-session payload")
			return
		}
		h.joinSession(msg.Conn, payload)

	case messages.TypeEnterMatchmaking:
		h.enterMatchmaking(msg.Conn)

	case messages.TypeSubmitMove:
		var payload messages.SubmitMovePayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(msg.Conn, "invalid submit-move payload")
			return
		}
		h.submitMove(msg.Conn, payload)

	case messages.TypeResetSession:
		var payload messages.ResetSessionPayload
		if len(msg.Message.Payload) > 0 {
			if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
				h.sendError(msg.Conn, "invalid reset-session payload")
				return
			}
		}
		h.resetSession(msg.Conn, payload)

	case messages.TypeLeaveSession:
		h.matchmaker.Cancel(msg.Conn.ID)
		h.leaveSession(msg.Conn)

	default:
		h.sendError(msg.Conn, "unknown message type")
	}
}

func (h *Hub) joinSession(conn *Connection, payload messages.JoinSessionPayload) {
	id := strings.TrimSpace(payload.SessionID)
	if !sessionIDPattern.MatchString(id) {
		h.sendError(conn, "invalid session id")
		return
	}

	h.matchmaker.Cancel(conn.ID)

	if conn.sessionID != "" && conn.sessionID != id {
		h.leaveSession(conn)
	}

	requested, _ := session.ParseSeat(payload.Seat)

	s := h.sessions.GetOrCreate(id)
	s.AssignSeat(conn.ID, requested, false)
	conn.sessionID = s.ID
}

func (h *Hub) enterMatchmaking(conn *Connection) {
	h.leaveSession(conn)

	s := h.matchmaker.EnqueueOrMatch(conn.ID)
	if s == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, role := range []session.Role{session.RoleFirst, session.RoleSecond} {
		if c, ok := h.connections[s.Occupant(role)]; ok {
			c.sessionID = s.ID
		}
	}
}

func (h *Hub) submitMove(conn *Connection, payload messages.SubmitMovePayload) {
	s, ok := h.sessions.Get(conn.sessionID)
	if !ok {
		h.logger.Debug("move ignored, not in a session", zap.String("connection_id", conn.ID))
		return
	}

	if _, err := s.SubmitMove(conn.ID, payload.Move); err != nil {
		fields := []zap.Field{
			zap.String("session_id", s.ID),
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		}
		if errors.Is(err, session.ErrRulesFault) {
			h.logger.Error("move failed", fields...)
			return
		}
		h.logger.Debug("move rejected", fields...)
	}
}

func (h *Hub) resetSession(conn *Connection, payload messages.ResetSessionPayload) {
	id := payload.SessionID
	if id == "" {
		id = conn.sessionID
	}

	s, ok := h.sessions.Get(id)
	if !ok {
		h.sendError(conn, "unknown session")
		return
	}

	if err := s.Reset(conn.ID); err != nil {
		h.logger.Debug("reset rejected",
			zap.String("session_id", s.ID),
			zap.String("connection_id", conn.ID),
			zap.Error(err))
		h.sendError(conn, err.Error())
	}
}

// leaveSession detaches the connection from its session, if any, and
// collects the session when it is left empty.
func (h *Hub) leaveSession(conn *Connection) {
	id := conn.sessionID
	if id == "" {
		return
	}
	conn.sessionID = ""

	s, ok := h.sessions.Get(id)
	if !ok {
		return
	}

	s.Vacate(conn.ID)
	h.collect(s)
}

// collect removes a session once no seat is held by a confirmed player, so a
// matched partner that never joined does not keep it alive. Unless configured
// otherwise, remaining spectators are told the session ended and detached.
func (h *Hub) collect(s *session.Session) {
	if s.HasConfirmedSeat() {
		return
	}
	if h.keepWithSpectators && s.SpectatorCount() > 0 {
		return
	}

	detached := s.Close()

	h.mu.RLock()
	for _, id := range detached {
		if c, ok := h.connections[id]; ok && c.sessionID == s.ID {
			c.sessionID = ""
		}
	}
	h.mu.RUnlock()

	h.sessions.Remove(s.ID)
}

func (h *Hub) handleTick(tick clockTick) {
	current, ok := h.sessions.Get(tick.session.ID)
	if !ok || current != tick.session {
		return
	}
	current.Tick(tick.generation)
}

func (h *Hub) collectStats() Stats {
	h.mu.RLock()
	connections := len(h.connections)
	h.mu.RUnlock()

	list := h.sessions.List()
	infos := make([]session.Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}

	_, searching := h.matchmaker.Waiting()

	return Stats{
		Connections: connections,
		Sessions:    infos,
		Searching:   searching,
	}
}

// closeAll stops every clock and closes every send channel
func (h *Hub) closeAll() {
	for _, s := range h.sessions.List() {
		s.Clock().Stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.connections {
		close(conn.send)
		delete(h.connections, id)
	}
}

func (h *Hub) sendError(conn *Connection, msg string) {
	h.Send(conn.ID, messages.EventError, messages.ErrorPayload{
		Message: msg,
	})
}
