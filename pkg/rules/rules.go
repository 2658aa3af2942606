// Package rules wraps the move validation collaborator used by a session.
package rules

import (
	"errors"

	"github.com/tecu23/match-server/pkg/chess"
)

var (
	// ErrMalformedMove is returned when a move descriptor cannot be decoded
	ErrMalformedMove = errors.New("malformed move")
	// ErrIllegalMove is returned when the move is not legal in the current position
	ErrIllegalMove = errors.New("illegal move")
)

// Move is the descriptor a player submits: squares in algebraic form and an
// optional promotion piece ("q", "r", "b", "n").
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MoveResult is the structured result of an accepted move
type MoveResult struct {
	Move      Move        `json:"move"`
	Color     chess.Color `json:"color"`
	Captured  bool        `json:"captured"`
	Check     bool        `json:"check"`
	Castle    bool        `json:"castle"`
	EnPassant bool        `json:"en_passant"`
	Promotion string      `json:"promotion,omitempty"`
}

// OutcomeKind classifies a terminal position
type OutcomeKind string

const (
	OutcomeNone OutcomeKind = ""
	OutcomeWin  OutcomeKind = "win"
	OutcomeDraw OutcomeKind = "draw"
)

// Outcome describes how a game finished
type Outcome struct {
	Kind   OutcomeKind
	Winner chess.Color // Set only for OutcomeWin
	Reason string      // checkmate, stalemate, insufficient_material, ...
}

// Engine is the rules collaborator. Implementations mutate their position only
// when ApplyMove accepts the move.
type Engine interface {
	SideToMove() chess.Color
	ApplyMove(move Move) (MoveResult, error)
	IsTerminal() bool
	IsCheckmate() bool
	Outcome() Outcome
	FEN() string
}

// Factory builds an engine at the initial position
type Factory func() Engine

// Cloner is implemented by engines that can copy their position. A session
// uses it to roll back when an engine panics halfway through a move.
type Cloner interface {
	Clone() Engine
}
