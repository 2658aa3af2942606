package messages

import (
	"encoding/json"

	"github.com/tecu23/match-server/pkg/rules"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound message types
const (
	TypeJoinSession      = "join-session"
	TypeEnterMatchmaking = "enter-matchmaking"
	TypeSubmitMove       = "submit-move"
	TypeResetSession     = "reset-session"
	TypeLeaveSession     = "leave-session"
)

// JoinSessionPayload asks for a seat in a named session. Seat is optional
// ("first" or "second") and is used by matched clients to confirm their seat.
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
	Seat      string `json:"seat,omitempty"`
}

// SubmitMovePayload carries a move descriptor for the current session
type SubmitMovePayload struct {
	rules.Move
}

// ResetSessionPayload names the session to reset; empty means the current one
type ResetSessionPayload struct {
	SessionID string `json:"session_id,omitempty"`
}
