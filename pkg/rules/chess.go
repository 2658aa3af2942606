package rules

import (
	"fmt"
	"strings"

	chesslib "github.com/corentings/chess/v2"

	"github.com/tecu23/match-server/pkg/chess"
)

// ChessEngine is the standard chess rules collaborator
type ChessEngine struct {
	game *chesslib.Game
}

// NewChessEngine returns an engine at the standard starting position
func NewChessEngine() Engine {
	return &ChessEngine{game: chesslib.NewGame()}
}

// SideToMove returns the color whose turn it is
func (e *ChessEngine) SideToMove() chess.Color {
	if e.game.Position().Turn() == chesslib.Black {
		return chess.Black
	}
	return chess.White
}

// ApplyMove validates the move against the current position and plays it.
func (e *ChessEngine) ApplyMove(move Move) (MoveResult, error) {
	if e.IsTerminal() {
		return MoveResult{}, fmt.Errorf("%w: game is over", ErrIllegalMove)
	}

	notation, err := uciNotation(move)
	if err != nil {
		return MoveResult{}, err
	}

	decoded, err := chesslib.UCINotation{}.Decode(e.game.Position(), notation)
	if err != nil {
		return MoveResult{}, fmt.Errorf("%w: %v", ErrMalformedMove, err)
	}

	result, legal := e.classify(decoded)
	if !legal && len(notation) == 4 {
		// A pawn reaching the last rank without a hint promotes to a queen
		if queened, err := chesslib.UCINotation{}.Decode(e.game.Position(), notation+"q"); err == nil {
			if r, ok := e.classify(queened); ok {
				notation, decoded, result, legal = notation+"q", queened, r, true
			}
		}
	}
	if !legal && len(notation) == 5 {
		// The promotion field is only a hint; drop it for non-promoting moves
		notation = notation[:4]
		decoded, err = chesslib.UCINotation{}.Decode(e.game.Position(), notation)
		if err != nil {
			return MoveResult{}, fmt.Errorf("%w: %v", ErrMalformedMove, err)
		}
		result, legal = e.classify(decoded)
	}

	if !legal {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, notation)
	}

	result.Move = Move{From: notation[0:2], To: notation[2:4], Promotion: notation[4:]}
	result.Promotion = notation[4:]

	san := chesslib.AlgebraicNotation{}.Encode(e.game.Position(), decoded)
	if err := e.game.PushMove(san, nil); err != nil {
		return MoveResult{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	return result, nil
}

// classify looks the decoded move up among the legal moves of the position.
func (e *ChessEngine) classify(decoded *chesslib.Move) (MoveResult, bool) {
	for _, valid := range e.game.ValidMoves() {
		if valid.S1() != decoded.S1() || valid.S2() != decoded.S2() || valid.Promo() != decoded.Promo() {
			continue
		}

		return MoveResult{
			Color:     e.SideToMove(),
			Captured:  valid.HasTag(chesslib.Capture) || valid.HasTag(chesslib.EnPassant),
			EnPassant: valid.HasTag(chesslib.EnPassant),
			Castle:    valid.HasTag(chesslib.KingSideCastle) || valid.HasTag(chesslib.QueenSideCastle),
			Check:     valid.HasTag(chesslib.Check),
		}, true
	}

	return MoveResult{}, false
}

// IsTerminal reports whether the game has an outcome
func (e *ChessEngine) IsTerminal() bool {
	return e.game.Outcome() != chesslib.NoOutcome
}

// IsCheckmate reports whether the game ended by checkmate
func (e *ChessEngine) IsCheckmate() bool {
	return e.game.Method() == chesslib.Checkmate
}

// Outcome maps the library result onto the session vocabulary
func (e *ChessEngine) Outcome() Outcome {
	switch e.game.Outcome() {
	case chesslib.WhiteWon:
		return Outcome{Kind: OutcomeWin, Winner: chess.White, Reason: methodReason(e.game.Method())}
	case chesslib.BlackWon:
		return Outcome{Kind: OutcomeWin, Winner: chess.Black, Reason: methodReason(e.game.Method())}
	case chesslib.Draw:
		return Outcome{Kind: OutcomeDraw, Reason: methodReason(e.game.Method())}
	default:
		return Outcome{Kind: OutcomeNone}
	}
}

// FEN returns the position encoding of the current position
func (e *ChessEngine) FEN() string {
	return e.game.FEN()
}

func methodReason(method chesslib.Method) string {
	switch method {
	case chesslib.Checkmate:
		return "checkmate"
	case chesslib.Stalemate:
		return "stalemate"
	case chesslib.InsufficientMaterial:
		return "insufficient_material"
	case chesslib.ThreefoldRepetition, chesslib.FivefoldRepetition:
		return "repetition"
	case chesslib.FiftyMoveRule, chesslib.SeventyFiveMoveRule:
		return "move_rule"
	default:
		return "draw"
	}
}

// uciNotation normalizes a descriptor into long algebraic form, e.g. "e7e8q".
func uciNotation(move Move) (string, error) {
	from := strings.ToLower(strings.TrimSpace(move.From))
	to := strings.ToLower(strings.TrimSpace(move.To))
	promo := strings.ToLower(strings.TrimSpace(move.Promotion))

	if !validSquare(from) || !validSquare(to) {
		return "", fmt.Errorf("%w: bad square %q-%q", ErrMalformedMove, move.From, move.To)
	}

	switch promo {
	case "", "q", "r", "b", "n":
	case "queen":
		promo = "q"
	case "rook":
		promo = "r"
	case "bishop":
		promo = "b"
	case "knight":
		promo = "n"
	default:
		return "", fmt.Errorf("%w: bad promotion %q", ErrMalformedMove, move.Promotion)
	}

	return from + to + promo, nil
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

// Clone returns an independent copy of the engine
func (e *ChessEngine) Clone() Engine {
	return &ChessEngine{game: e.game.Clone()}
}
