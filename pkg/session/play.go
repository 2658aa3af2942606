package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/rules"
)

// SubmitMove validates turn ownership and forwards the move to the rules
// engine. An accepted move restarts the clock, or stops it on a terminal
// position, before the position and clock are broadcast. A rejected move
// changes nothing and is never broadcast; the returned error is for logging
// only.
func (s *Session) SubmitMove(connID string, move rules.Move) (rules.MoveResult, error) {
	role := s.Role(connID)
	switch {
	case role == RoleNone:
		return rules.MoveResult{}, ErrNotAttached
	case !role.IsSeat():
		return rules.MoveResult{}, ErrNotSeated
	case s.status == StatusCompleted:
		return rules.MoveResult{}, ErrSessionOver
	case !s.bothSeated():
		return rules.MoveResult{}, ErrSessionNotActive
	case s.engine.SideToMove() != role.Color():
		return rules.MoveResult{}, ErrNotYourTurn
	}

	result, err := s.applyMove(move)
	if err != nil {
		return rules.MoveResult{}, err
	}

	s.held = false

	// A finished game never shows a running clock
	terminal := s.engine.IsTerminal()
	if terminal {
		s.clock.Stop()
	} else {
		s.clock.Restart()
	}

	s.broadcastPosition(&result, false)
	s.broadcastClock()

	s.publish(events.EventMoveApplied, result)

	s.logger.Debug("move applied",
		zap.String("connection_id", connID),
		zap.String("from", result.Move.From),
		zap.String("to", result.Move.To),
		zap.String("next_turn", string(s.engine.SideToMove())))

	if terminal {
		outcome := s.engine.Outcome()
		payload := messages.SessionEndedPayload{
			SessionID: s.ID,
			Outcome:   string(outcome.Kind),
			Winner:    outcome.Winner,
			Reason:    outcome.Reason,
		}
		if outcome.Kind == rules.OutcomeNone {
			payload.Outcome = string(rules.OutcomeDraw)
		}
		s.finish(payload)
	}

	return result, nil
}

// applyMove calls the rules engine and turns a panic into an error. When the
// engine supports it, the position from before the call is restored.
func (s *Session) applyMove(move rules.Move) (result rules.MoveResult, err error) {
	var backup rules.Engine
	if cloner, ok := s.engine.(rules.Cloner); ok {
		backup = cloner.Clone()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rules engine panicked", zap.Any("panic", r))
			if backup != nil {
				s.engine = backup
			}
			result, err = rules.MoveResult{}, fmt.Errorf("%w: %v", ErrRulesFault, r)
		}
	}()

	return s.engine.ApplyMove(move)
}

// Tick applies a clock tick produced by generation. Ticks from a stopped or
// replaced generation are ignored.
func (s *Session) Tick(generation uint64) {
	active := s.engine.SideToMove()

	tick, ok := s.clock.Tick(generation, active)
	if !ok {
		return
	}

	s.broadcast(messages.EventClockUpdate, messages.NewClockPayload(tick.Times, active, !tick.Expired))

	if tick.Expired {
		s.logger.Info("player time expired", zap.String("color", string(active)))
		s.finish(messages.SessionEndedPayload{
			SessionID: s.ID,
			Outcome:   "timeout",
			Winner:    active.Opp(),
			Reason:    active.Name() + " ran out of time",
		})
	}
}

// Reset replaces the position with a fresh one, puts both counters back to
// the initial value and stops the clock. The clock stays idle until the next
// accepted move.
func (s *Session) Reset(connID string) error {
	role := s.Role(connID)
	if role == RoleNone {
		return ErrNotAttached
	}
	if s.resetPolicy == ResetPlayers && !role.IsSeat() {
		return ErrResetForbidden
	}

	s.clock.Reset()
	s.engine = s.newEngine()
	s.held = true

	if s.bothSeated() {
		s.status = StatusActive
	} else {
		s.status = StatusWaiting
	}

	s.logger.Info("session reset", zap.String("connection_id", connID))

	s.broadcastPosition(nil, true)
	s.broadcastClock()

	return nil
}

func (s *Session) finish(payload messages.SessionEndedPayload) {
	s.clock.Stop()
	s.status = StatusCompleted

	s.logger.Info("session ended",
		zap.String("outcome", payload.Outcome),
		zap.String("winner", string(payload.Winner)),
		zap.String("reason", payload.Reason))

	s.broadcast(messages.EventSessionEnded, payload)
	s.publish(events.EventSessionEnded, payload)
}

// Remaining returns both counters
func (s *Session) Remaining() chess.Times {
	return s.clock.Remaining()
}
