package chess

// Color is the side to move in a game. Seat first plays White, seat second plays Black.
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Name returns the long form used in human readable results.
func (c Color) Name() string {
	if c == White {
		return "white"
	}

	return "black"
}
