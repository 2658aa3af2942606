package messages

import (
	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/rules"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Outbound event names
const (
	EventConnected       = "connected"
	EventSeatAssigned    = "seat-assigned"
	EventWaiting         = "waiting"
	EventSearching       = "searching"
	EventMatched         = "matched"
	EventPositionUpdate  = "position-update"
	EventClockUpdate     = "clock-update"
	EventSessionEnded    = "session-ended"
	EventParticipantLeft = "participant-left"
	EventError           = "error"
)

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// ClockPayload carries both seats' remaining time in whole seconds
type ClockPayload struct {
	WhiteTime   int64       `json:"white_time"`
	BlackTime   int64       `json:"black_time"`
	ActiveColor chess.Color `json:"active_color,omitempty"`
	Running     bool        `json:"running"`
}

// SeatAssignedPayload is sent to a connection after a join or rejoin
type SeatAssignedPayload struct {
	SessionID   string       `json:"session_id"`
	Role        string       `json:"role"`
	Color       chess.Color  `json:"color,omitempty"`
	BoardFEN    string       `json:"board_fen"`
	CurrentTurn chess.Color  `json:"current_turn"`
	Clock       ClockPayload `json:"clock"`
	Status      string       `json:"status"`
}

// WaitingPayload is sent to the first seat while the second is empty
type WaitingPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	ShareLink string `json:"share_link"`
}

type SearchingPayload struct {
	Message string `json:"message"`
}

// MatchedPayload tells a matched connection where to go next
type MatchedPayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

// PositionUpdatePayload is broadcast after an accepted move or a reset
type PositionUpdatePayload struct {
	SessionID   string            `json:"session_id"`
	BoardFEN    string            `json:"board_fen"`
	CurrentTurn chess.Color       `json:"current_turn"`
	LastMove    *rules.MoveResult `json:"last_move,omitempty"`
	Reset       bool              `json:"reset,omitempty"`
	Clock       ClockPayload      `json:"clock"`
}

// SessionEndedPayload describes the outcome of a session
type SessionEndedPayload struct {
	SessionID string      `json:"session_id"`
	Outcome   string      `json:"outcome"` // win, draw, timeout, abandoned
	Winner    chess.Color `json:"winner,omitempty"`
	Reason    string      `json:"reason"`
}

type ParticipantLeftPayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Message   string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewClockPayload converts clock times for the wire
func NewClockPayload(times chess.Times, active chess.Color, running bool) ClockPayload {
	return ClockPayload{
		WhiteTime:   times.White,
		BlackTime:   times.Black,
		ActiveColor: active,
		Running:     running,
	}
}
