package matchmaker

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/session"
	"github.com/tecu23/match-server/pkg/session/sessiontest"
)

type fakeRegistry struct {
	transport session.Transport
	clock     clockwork.Clock
	created   []*session.Session
}

func (r *fakeRegistry) Create() *session.Session {
	s := session.New("s"+string(rune('0'+len(r.created))), session.Options{
		TimeControl: chess.DefaultTimeControl(),
		Clock:       r.clock,
		Transport:   r.transport,
	})
	r.created = append(r.created, s)
	return s
}

func newTestMatchmaker(t *testing.T) (*Matchmaker, *fakeRegistry, *sessiontest.Transport, *clockwork.FakeClock) {
	t.Helper()

	tr := sessiontest.New("a", "b", "c")
	fc := clockwork.NewFakeClock()
	reg := &fakeRegistry{transport: tr, clock: fc}
	t.Cleanup(func() {
		for _, s := range reg.created {
			s.Clock().Stop()
		}
	})

	return New(reg, tr, fc, nil, zap.NewNop()), reg, tr, fc
}

func TestFirstConnectionWaits(t *testing.T) {
	m, reg, tr, fc := newTestMatchmaker(t)

	assert.Nil(t, m.EnqueueOrMatch("a"))

	w, ok := m.Waiting()
	require.True(t, ok)
	assert.Equal(t, "a", w.ConnectionID)
	assert.Equal(t, fc.Now(), w.Since)
	assert.Len(t, tr.SentTo("a", messages.EventSearching), 1)
	assert.Empty(t, reg.created)
}

func TestPairingSeatsBothConnections(t *testing.T) {
	m, reg, tr, _ := newTestMatchmaker(t)

	m.EnqueueOrMatch("a")
	s := m.EnqueueOrMatch("b")

	require.NotNil(t, s)
	require.Len(t, reg.created, 1)
	_, waiting := m.Waiting()
	assert.False(t, waiting)

	assert.Equal(t, session.RoleFirst, s.Role("a"))
	assert.Equal(t, session.RoleSecond, s.Role("b"))
	assert.False(t, s.Clock().IsRunning(), "clock waits for both joins")

	matchedA := tr.SentTo("a", messages.EventMatched)
	matchedB := tr.SentTo("b", messages.EventMatched)
	require.Len(t, matchedA, 1)
	require.Len(t, matchedB, 1)
	assert.Equal(t, messages.MatchedPayload{SessionID: s.ID, Role: "first"}, matchedA[0].Payload)
	assert.Equal(t, messages.MatchedPayload{SessionID: s.ID, Role: "second"}, matchedB[0].Payload)

	s.AssignSeat("a", session.RoleFirst, false)
	s.AssignSeat("b", session.RoleSecond, false)
	assert.True(t, s.Clock().IsRunning())
}

func TestThreeConnectionsLeaveOneWaiting(t *testing.T) {
	m, reg, _, _ := newTestMatchmaker(t)

	m.EnqueueOrMatch("a")
	m.EnqueueOrMatch("b")
	m.EnqueueOrMatch("c")

	assert.Len(t, reg.created, 1)
	w, ok := m.Waiting()
	require.True(t, ok)
	assert.Equal(t, "c", w.ConnectionID)
}

func TestNeverMatchesWithItself(t *testing.T) {
	m, reg, tr, _ := newTestMatchmaker(t)

	m.EnqueueOrMatch("a")
	assert.Nil(t, m.EnqueueOrMatch("a"))

	assert.Empty(t, reg.created)
	assert.Len(t, tr.SentTo("a", messages.EventSearching), 2)
}

func TestStaleWaiterIsReplaced(t *testing.T) {
	m, reg, tr, fc := newTestMatchmaker(t)

	m.EnqueueOrMatch("a")
	tr.Disconnect("a")
	fc.Advance(time.Minute)

	assert.Nil(t, m.EnqueueOrMatch("b"))
	assert.Empty(t, reg.created)

	w, ok := m.Waiting()
	require.True(t, ok)
	assert.Equal(t, "b", w.ConnectionID)
	assert.Equal(t, fc.Now(), w.Since)
}

func TestCancel(t *testing.T) {
	m, _, _, _ := newTestMatchmaker(t)

	m.EnqueueOrMatch("a")
	assert.False(t, m.Cancel("b"))
	assert.True(t, m.Cancel("a"))
	assert.False(t, m.Cancel("a"))

	_, ok := m.Waiting()
	assert.False(t, ok)
}
