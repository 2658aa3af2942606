package session

import "github.com/tecu23/match-server/pkg/chess"

// Role is the position a connection holds inside a session
type Role string

const (
	RoleNone      Role = ""
	RoleFirst     Role = "first"
	RoleSecond    Role = "second"
	RoleSpectator Role = "spectator"
)

// ParseSeat maps a requested seat name onto a seat role. Anything else,
// including an empty string, means no preference.
func ParseSeat(name string) (Role, bool) {
	switch Role(name) {
	case RoleFirst, RoleSecond:
		return Role(name), true
	default:
		return RoleNone, false
	}
}

// IsSeat reports whether the role is one of the two playing seats
func (r Role) IsSeat() bool {
	return r == RoleFirst || r == RoleSecond
}

// Color returns the side a seat plays. Spectators have no color.
func (r Role) Color() chess.Color {
	switch r {
	case RoleFirst:
		return chess.White
	case RoleSecond:
		return chess.Black
	default:
		return ""
	}
}

func (r Role) index() int {
	if r == RoleSecond {
		return 1
	}
	return 0
}

func seatRole(index int) Role {
	if index == 1 {
		return RoleSecond
	}
	return RoleFirst
}

// SeatState is the resolved occupancy of a seat
type SeatState int

const (
	SeatEmpty SeatState = iota
	SeatOccupied
	SeatStale // held by a connection the transport no longer knows
)

type seat struct {
	occupant  string
	confirmed bool // false while a matched connection has not joined yet
}

// resolve is the single occupancy check shared by the join and move paths.
func (s seat) resolve(isLive func(string) bool) SeatState {
	switch {
	case s.occupant == "":
		return SeatEmpty
	case !isLive(s.occupant):
		return SeatStale
	default:
		return SeatOccupied
	}
}

func (s seat) claimable(isLive func(string) bool) bool {
	return s.resolve(isLive) != SeatOccupied
}
