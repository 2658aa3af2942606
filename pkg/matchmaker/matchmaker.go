// Package matchmaker pairs anonymous connections into new sessions
package matchmaker

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/session"
)

// Registry is the part of the session registry the matchmaker needs
type Registry interface {
	Create() *session.Session
}

// Waiter is the occupant of the waiting slot
type Waiter struct {
	ConnectionID string
	Since        time.Time // advisory only
}

// Matchmaker is a single-slot queue. Like sessions, it is only used from the
// hub's event loop.
type Matchmaker struct {
	waiting *Waiter

	registry  Registry
	transport session.Transport
	clock     clockwork.Clock
	publisher *events.Publisher
	logger    *zap.Logger
}

// New creates an empty matchmaker
func New(
	registry Registry,
	transport session.Transport,
	clock clockwork.Clock,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Matchmaker {
	return &Matchmaker{
		registry:  registry,
		transport: transport,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

// EnqueueOrMatch parks the connection in the waiting slot, or pairs it with
// the live waiter. On a match the waiter takes seat first, the new arrival
// seat second, and the new session is returned.
func (m *Matchmaker) EnqueueOrMatch(connID string) *session.Session {
	switch {
	case m.waiting == nil:
		m.enqueue(connID)
		return nil
	case m.waiting.ConnectionID == connID:
		m.notifySearching(connID)
		return nil
	case !m.transport.IsLive(m.waiting.ConnectionID):
		m.logger.Info("replacing stale waiter",
			zap.String("stale_connection_id", m.waiting.ConnectionID),
			zap.String("connection_id", connID))
		m.enqueue(connID)
		return nil
	}

	waiter := m.waiting.ConnectionID
	m.waiting = nil

	s := m.registry.Create()
	first := s.AssignSeat(waiter, session.RoleFirst, true)
	second := s.AssignSeat(connID, session.RoleSecond, true)

	m.transport.Send(waiter, messages.EventMatched, messages.MatchedPayload{
		SessionID: s.ID,
		Role:      string(first),
	})
	m.transport.Send(connID, messages.EventMatched, messages.MatchedPayload{
		SessionID: s.ID,
		Role:      string(second),
	})

	m.logger.Info("matched connections",
		zap.String("session_id", s.ID),
		zap.String("first", waiter),
		zap.String("second", connID))

	m.publisher.Publish(events.Event{
		Type:      events.EventMatchMade,
		SessionID: s.ID,
		Payload: map[string]string{
			"first":  waiter,
			"second": connID,
		},
	})

	return s
}

// Cancel clears the waiting slot if the connection occupies it
func (m *Matchmaker) Cancel(connID string) bool {
	if m.waiting == nil || m.waiting.ConnectionID != connID {
		return false
	}

	m.waiting = nil
	m.logger.Debug("waiter left the queue", zap.String("connection_id", connID))
	return true
}

// Waiting returns the current occupant of the slot
func (m *Matchmaker) Waiting() (Waiter, bool) {
	if m.waiting == nil {
		return Waiter{}, false
	}
	return *m.waiting, true
}

func (m *Matchmaker) enqueue(connID string) {
	m.waiting = &Waiter{
		ConnectionID: connID,
		Since:        m.clock.Now(),
	}
	m.notifySearching(connID)
}

func (m *Matchmaker) notifySearching(connID string) {
	m.transport.Send(connID, messages.EventSearching, messages.SearchingPayload{
		Message: "Searching for an opponent",
	})
}
