// Package session holds the state of a single two-seat game: seat occupancy,
// spectators, the rules engine and the countdown clock.
//
// A Session is not safe for concurrent use. Every method is expected to be
// called from the hub's event loop, which serializes all session mutations.
package session

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/rules"
)

var (
	ErrNotAttached      = errors.New("connection is not attached to the session")
	ErrNotSeated        = errors.New("connection does not occupy a seat")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrSessionNotActive = errors.New("session is not active")
	ErrSessionOver      = errors.New("session has ended")
	ErrResetForbidden   = errors.New("reset not allowed for this connection")
	ErrRulesFault       = errors.New("rules engine fault")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusWaiting   Status = "waiting"   // fewer than two confirmed seats so far
	StatusActive    Status = "active"    // both seats have been filled
	StatusCompleted Status = "completed" // terminal position or timeout
)

// ResetPolicy decides who may reset a session
type ResetPolicy string

const (
	ResetAny     ResetPolicy = "any"     // any attached connection, spectators included
	ResetPlayers ResetPolicy = "players" // seated connections only
)

// Transport is what a session needs from the connection layer
type Transport interface {
	Send(connID, event string, payload interface{})
	Broadcast(sessionID, event string, payload interface{})
	JoinGroup(connID, sessionID string)
	LeaveGroup(connID, sessionID string)
	IsLive(connID string) bool
}

// Dispatcher hands a clock tick back to the event loop that owns the session.
// It runs on the clock's ticker goroutine.
type Dispatcher func(s *Session, generation uint64)

// Options are shared by every session a registry creates
type Options struct {
	TimeControl  chess.TimeControl
	Rules        rules.Factory
	Clock        clockwork.Clock
	Dispatch     Dispatcher
	Transport    Transport
	Publisher    *events.Publisher
	Logger       *zap.Logger
	ResetPolicy  ResetPolicy
	ShareBaseURL string
}

// Session is one game instance
type Session struct {
	ID        string
	CreatedAt time.Time

	engine    rules.Engine
	newEngine rules.Factory

	seats      [2]seat
	spectators map[string]struct{}

	clock *chess.Clock
	// held keeps the clock idle after a reset until the first accepted move
	held   bool
	status Status

	transport   Transport
	publisher   *events.Publisher
	logger      *zap.Logger
	resetPolicy ResetPolicy
	shareBase   string
}

// New creates a session with empty seats, default clock values and a fresh
// rules engine.
func New(id string, opts Options) *Session {
	if opts.Rules == nil {
		opts.Rules = rules.NewChessEngine
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ResetPolicy == "" {
		opts.ResetPolicy = ResetAny
	}
	if opts.TimeControl.InitialSeconds <= 0 {
		opts.TimeControl = chess.DefaultTimeControl()
	}

	s := &Session{
		ID:          id,
		CreatedAt:   opts.Clock.Now(),
		engine:      opts.Rules(),
		newEngine:   opts.Rules,
		spectators:  make(map[string]struct{}),
		status:      StatusWaiting,
		transport:   opts.Transport,
		publisher:   opts.Publisher,
		logger:      opts.Logger.With(zap.String("session_id", id)),
		resetPolicy: opts.ResetPolicy,
		shareBase:   opts.ShareBaseURL,
	}

	dispatch := opts.Dispatch
	s.clock = chess.NewClock(opts.TimeControl, opts.Clock, func(generation uint64) {
		if dispatch != nil {
			dispatch(s, generation)
		}
	})

	return s
}

// Role returns the role a connection holds in this session
func (s *Session) Role(connID string) Role {
	for i, st := range s.seats {
		if st.occupant == connID && connID != "" {
			return seatRole(i)
		}
	}

	if _, ok := s.spectators[connID]; ok {
		return RoleSpectator
	}

	return RoleNone
}

// Occupant returns the connection holding a seat, or "" when empty
func (s *Session) Occupant(role Role) string {
	if !role.IsSeat() {
		return ""
	}
	return s.seats[role.index()].occupant
}

// SeatState resolves the occupancy of a seat against the transport
func (s *Session) SeatState(role Role) SeatState {
	return s.seats[role.index()].resolve(s.transport.IsLive)
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	return s.status
}

// Clock exposes the countdown for inspection
func (s *Session) Clock() *chess.Clock {
	return s.clock
}

// FEN returns the current position encoding
func (s *Session) FEN() string {
	return s.engine.FEN()
}

// SideToMove returns the color whose turn it is
func (s *Session) SideToMove() chess.Color {
	return s.engine.SideToMove()
}

// Members returns every attached connection: both seats, then spectators
func (s *Session) Members() []string {
	members := make([]string, 0, 2+len(s.spectators))
	for _, st := range s.seats {
		if st.occupant != "" {
			members = append(members, st.occupant)
		}
	}
	for id := range s.spectators {
		members = append(members, id)
	}
	return members
}

// SpectatorCount returns the number of observers
func (s *Session) SpectatorCount() int {
	return len(s.spectators)
}

// SeatsEmpty reports whether neither seat is held
func (s *Session) SeatsEmpty() bool {
	return s.seats[0].occupant == "" && s.seats[1].occupant == ""
}

// HasConfirmedSeat reports whether a seat is held by a connection that has
// confirmed it. A session holding only reservations has nobody playing.
func (s *Session) HasConfirmedSeat() bool {
	return s.seats[0].confirmed || s.seats[1].confirmed
}

// IsEmpty reports whether nobody at all is attached
func (s *Session) IsEmpty() bool {
	return s.SeatsEmpty() && len(s.spectators) == 0
}

// bothSeated reports whether both seats hold live, confirmed connections
func (s *Session) bothSeated() bool {
	for _, st := range s.seats {
		if !st.confirmed || st.resolve(s.transport.IsLive) != SeatOccupied {
			return false
		}
	}
	return true
}

// Info is a read-only summary used by the stats endpoint
type Info struct {
	ID           string `json:"id"`
	Status       Status `json:"status"`
	Players      int    `json:"players"`
	Spectators   int    `json:"spectators"`
	ClockRunning bool   `json:"clock_running"`
}

// Info returns a summary of the session
func (s *Session) Info() Info {
	players := 0
	for _, st := range s.seats {
		if st.occupant != "" {
			players++
		}
	}

	return Info{
		ID:           s.ID,
		Status:       s.status,
		Players:      players,
		Spectators:   len(s.spectators),
		ClockRunning: s.clock.IsRunning(),
	}
}

func (s *Session) clockPayload() messages.ClockPayload {
	active := chess.Color("")
	running := s.clock.IsRunning()
	if running {
		active = s.engine.SideToMove()
	}
	return messages.NewClockPayload(s.clock.Remaining(), active, running)
}

func (s *Session) broadcast(event string, payload interface{}) {
	s.transport.Broadcast(s.ID, event, payload)
}

func (s *Session) broadcastClock() {
	s.broadcast(messages.EventClockUpdate, s.clockPayload())
}

func (s *Session) broadcastPosition(last *rules.MoveResult, reset bool) {
	s.broadcast(messages.EventPositionUpdate, messages.PositionUpdatePayload{
		SessionID:   s.ID,
		BoardFEN:    s.engine.FEN(),
		CurrentTurn: s.engine.SideToMove(),
		LastMove:    last,
		Reset:       reset,
		Clock:       s.clockPayload(),
	})
}

func (s *Session) publish(eventType events.EventType, payload interface{}) {
	s.publisher.Publish(events.Event{
		Type:      eventType,
		SessionID: s.ID,
		Payload:   payload,
	})
}
