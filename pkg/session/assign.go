package session

import (
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/messages"
)

// AssignSeat attaches a connection to the session and returns its role.
//
// With a requested seat the connection claims that seat if it is empty or
// stale, otherwise it becomes a spectator. Without one it takes the first
// claimable seat in order. A connection that is already attached keeps its
// role and is sent its snapshot again.
//
// reserve seats the connection without confirming it: the matchmaker uses it
// so the clock only starts once both matched connections have joined.
func (s *Session) AssignSeat(connID string, requested Role, reserve bool) Role {
	wasSeated := s.bothSeated()

	if current := s.Role(connID); current != RoleNone {
		return s.reaffirm(connID, current, reserve, wasSeated)
	}

	role := RoleSpectator
	switch {
	case requested.IsSeat():
		if s.seats[requested.index()].claimable(s.transport.IsLive) {
			role = requested
		}
	case s.seats[0].claimable(s.transport.IsLive):
		role = RoleFirst
	case s.seats[1].claimable(s.transport.IsLive):
		role = RoleSecond
	}

	if role.IsSeat() {
		idx := role.index()
		if stale := s.seats[idx].occupant; stale != "" {
			s.logger.Info("replacing stale seat occupant",
				zap.String("seat", string(role)),
				zap.String("stale_connection_id", stale))
		}
		s.seats[idx] = seat{occupant: connID, confirmed: !reserve}
	} else {
		s.spectators[connID] = struct{}{}
	}

	s.transport.JoinGroup(connID, s.ID)

	s.logger.Info("seat assigned",
		zap.String("connection_id", connID),
		zap.String("role", string(role)),
		zap.Bool("reserved", reserve))

	s.publish(events.EventSeatAssigned, map[string]string{
		"connection_id": connID,
		"role":          string(role),
	})

	if reserve {
		return role
	}

	s.sendSnapshot(connID, role)
	s.afterSeatChange(connID, role, wasSeated)

	return role
}

func (s *Session) reaffirm(connID string, current Role, reserve, wasSeated bool) Role {
	if current.IsSeat() && !reserve {
		s.seats[current.index()].confirmed = true
	}

	if !reserve {
		s.sendSnapshot(connID, current)
		s.afterSeatChange(connID, current, wasSeated)
	}

	return current
}

// afterSeatChange activates the session once both seats are filled. A hold
// left by a reset only covers the pair that was seated at the time, so a
// fill that completes the pair releases it.
func (s *Session) afterSeatChange(connID string, role Role, wasSeated bool) {
	if !role.IsSeat() {
		return
	}

	if s.bothSeated() {
		if !wasSeated {
			s.held = false
		}
		s.activate()
		return
	}

	if s.status == StatusWaiting {
		s.sendWaiting(connID)
	}
}

func (s *Session) sendWaiting(connID string) {
	s.transport.Send(connID, messages.EventWaiting, messages.WaitingPayload{
		Message:   "Waiting for an opponent to join",
		SessionID: s.ID,
		ShareLink: s.shareBase + s.ID,
	})
}

// activate marks the session active and starts the clock unless the game is
// over or held after a reset. Everyone attached gets the position and clock.
func (s *Session) activate() {
	if s.status == StatusCompleted {
		return
	}

	wasWaiting := s.status == StatusWaiting
	s.status = StatusActive

	started := false
	if !s.held && !s.engine.IsTerminal() {
		started = s.clock.Start()
	}

	if !wasWaiting && !started {
		return
	}

	s.logger.Info("session active", zap.Bool("clock_started", started))

	s.broadcastPosition(nil, false)
	s.broadcastClock()

	if wasWaiting {
		s.publish(events.EventSessionStarted, map[string]string{
			"first":  s.seats[0].occupant,
			"second": s.seats[1].occupant,
		})
	}
}

func (s *Session) sendSnapshot(connID string, role Role) {
	s.transport.Send(connID, messages.EventSeatAssigned, messages.SeatAssignedPayload{
		SessionID:   s.ID,
		Role:        string(role),
		Color:       role.Color(),
		BoardFEN:    s.engine.FEN(),
		CurrentTurn: s.engine.SideToMove(),
		Clock:       s.clockPayload(),
		Status:      string(s.status),
	})
}

// Vacate detaches a connection from whichever role it holds. A vacated seat
// stops the clock and, unless the game is over, puts the session back to
// waiting; a confirmed player left alone is sent the waiting notice. It
// returns the role that was released.
func (s *Session) Vacate(connID string) Role {
	role := s.Role(connID)
	switch {
	case role == RoleNone:
		return RoleNone
	case role.IsSeat():
		s.seats[role.index()] = seat{}
	default:
		delete(s.spectators, connID)
	}

	s.transport.LeaveGroup(connID, s.ID)

	s.logger.Info("participant left",
		zap.String("connection_id", connID),
		zap.String("role", string(role)))

	if role.IsSeat() && s.clock.IsRunning() {
		s.clock.Stop()
		s.broadcastClock()
	}

	s.broadcast(messages.EventParticipantLeft, messages.ParticipantLeftPayload{
		SessionID: s.ID,
		Role:      string(role),
		Message:   leftMessage(role),
	})

	if role.IsSeat() && s.status != StatusCompleted {
		s.status = StatusWaiting

		other := s.seats[1-role.index()]
		if other.confirmed && other.resolve(s.transport.IsLive) == SeatOccupied {
			s.sendWaiting(other.occupant)
		}
	}

	return role
}

// Close stops the clock and detaches everyone still attached, telling them
// the session was abandoned. It returns the detached connections.
func (s *Session) Close() []string {
	s.clock.Stop()

	members := s.Members()
	if len(members) > 0 {
		s.broadcast(messages.EventSessionEnded, messages.SessionEndedPayload{
			SessionID: s.ID,
			Outcome:   "abandoned",
			Reason:    "both players left",
		})
	}

	for _, id := range members {
		s.transport.LeaveGroup(id, s.ID)
	}

	s.seats = [2]seat{}
	s.spectators = make(map[string]struct{})

	return members
}

func leftMessage(role Role) string {
	switch role {
	case RoleFirst:
		return "White left the game"
	case RoleSecond:
		return "Black left the game"
	default:
		return "A spectator left"
	}
}
