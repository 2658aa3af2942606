package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/rules"
	"github.com/tecu23/match-server/pkg/session"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T, keepWithSpectators bool) (*Hub, *clockwork.FakeClock) {
	t.Helper()

	fc := clockwork.NewFakeClock()
	h := NewHub(HubConfig{
		Session: session.Options{
			TimeControl: chess.DefaultTimeControl(),
			Clock:       fc,
		},
		KeepWithSpectators: keepWithSpectators,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h, fc
}

func connect(t *testing.T, h *Hub, id string) *Connection {
	t.Helper()

	c := &Connection{
		ID:     id,
		hub:    h,
		send:   make(chan []byte, 256),
		logger: zap.NewNop(),
	}
	require.True(t, h.Register(c))

	var payload messages.ConnectedPayload
	expectEvent(t, c, messages.EventConnected, &payload)
	assert.Equal(t, id, payload.ConnectionID)

	return c
}

func sendEvent(t *testing.T, h *Hub, c *Connection, typ string, payload interface{}) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.True(t, h.Dispatch(InboundHubMessage{
		Conn:    c,
		Message: messages.InboundMessage{Type: typ, Payload: raw},
	}))
}

// expectEvent reads from the connection until the named event arrives,
// skipping anything else.
func expectEvent(t *testing.T, c *Connection, event string, out interface{}) {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case data, ok := <-c.send:
			require.True(t, ok, "send channel of %s closed while waiting for %s", c.ID, event)

			var env envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Event != event {
				continue
			}
			if out != nil {
				require.NoError(t, json.Unmarshal(env.Payload, out))
			}
			return

		case <-timeout:
			t.Fatalf("%s never received %s", c.ID, event)
		}
	}
}

// drain returns the events already queued for the connection
func drain(c *Connection) []string {
	var got []string
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return got
			}
			var env envelope
			if json.Unmarshal(data, &env) == nil {
				got = append(got, env.Event)
			}
		default:
			return got
		}
	}
}

// barrier waits until the hub loop has processed everything queued before it
func barrier(t *testing.T, h *Hub) Stats {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	return stats
}

func TestMatchJoinAndMove(t *testing.T) {
	h, fc := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	sendEvent(t, h, a, messages.TypeEnterMatchmaking, nil)
	expectEvent(t, a, messages.EventSearching, nil)

	sendEvent(t, h, b, messages.TypeEnterMatchmaking, nil)

	var matchedA, matchedB messages.MatchedPayload
	expectEvent(t, a, messages.EventMatched, &matchedA)
	expectEvent(t, b, messages.EventMatched, &matchedB)
	require.NotEmpty(t, matchedA.SessionID)
	assert.Equal(t, matchedA.SessionID, matchedB.SessionID)
	assert.Equal(t, "first", matchedA.Role)
	assert.Equal(t, "second", matchedB.Role)

	stats := barrier(t, h)
	require.Len(t, stats.Sessions, 1)
	assert.False(t, stats.Sessions[0].ClockRunning, "clock idle until both join")
	assert.False(t, stats.Searching)

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: matchedA.SessionID, Seat: "first"})

	var seatA messages.SeatAssignedPayload
	expectEvent(t, a, messages.EventSeatAssigned, &seatA)
	assert.Equal(t, "first", seatA.Role)
	assert.Equal(t, chess.White, seatA.Color)
	assert.Equal(t, startFEN, seatA.BoardFEN)
	assert.Equal(t, int64(300), seatA.Clock.WhiteTime)
	assert.False(t, seatA.Clock.Running)

	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: matchedB.SessionID, Seat: "second"})

	var seatB messages.SeatAssignedPayload
	expectEvent(t, b, messages.EventSeatAssigned, &seatB)
	assert.Equal(t, chess.Black, seatB.Color)

	for _, c := range []*Connection{a, b} {
		var clock messages.ClockPayload
		expectEvent(t, c, messages.EventClockUpdate, &clock)
		assert.True(t, clock.Running)
		assert.Equal(t, chess.White, clock.ActiveColor)
	}

	sendEvent(t, h, a, messages.TypeSubmitMove, rules.Move{From: "e2", To: "e4"})

	for _, c := range []*Connection{a, b} {
		var pos messages.PositionUpdatePayload
		expectEvent(t, c, messages.EventPositionUpdate, &pos)
		assert.True(t, strings.HasPrefix(pos.BoardFEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq"), pos.BoardFEN)
		assert.Equal(t, chess.Black, pos.CurrentTurn)
		require.NotNil(t, pos.LastMove)
		assert.Equal(t, "e2", pos.LastMove.Move.From)

		expectEvent(t, c, messages.EventClockUpdate, nil)
	}

	fc.Advance(time.Second)

	var tick messages.ClockPayload
	expectEvent(t, b, messages.EventClockUpdate, &tick)
	assert.Equal(t, int64(300), tick.WhiteTime)
	assert.Equal(t, int64(299), tick.BlackTime)
	assert.Equal(t, chess.Black, tick.ActiveColor)
}

func TestOutOfTurnMoveIsSilent(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	expectEvent(t, b, messages.EventClockUpdate, nil)
	barrier(t, h)
	drain(a)
	drain(b)

	sendEvent(t, h, b, messages.TypeSubmitMove, rules.Move{From: "e7", To: "e5"})
	sendEvent(t, h, a, messages.TypeSubmitMove, rules.Move{From: "e2", To: "e5"})
	barrier(t, h)

	assert.Empty(t, drain(a))
	assert.Empty(t, drain(b))
}

func TestGarbageCollectsEmptySession(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, c, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})

	var spectator messages.SeatAssignedPayload
	expectEvent(t, c, messages.EventSeatAssigned, &spectator)
	assert.Equal(t, "spectator", spectator.Role)

	sendEvent(t, h, a, messages.TypeLeaveSession, nil)

	var left messages.ParticipantLeftPayload
	expectEvent(t, b, messages.EventParticipantLeft, &left)
	assert.Equal(t, "first", left.Role)

	stats := barrier(t, h)
	require.Len(t, stats.Sessions, 1)
	assert.False(t, stats.Sessions[0].ClockRunning)

	h.Unregister(b)

	var ended messages.SessionEndedPayload
	expectEvent(t, c, messages.EventSessionEnded, &ended)
	assert.Equal(t, "abandoned", ended.Outcome)

	stats = barrier(t, h)
	assert.Empty(t, stats.Sessions)
	assert.Equal(t, 2, stats.Connections)

	sendEvent(t, h, c, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})

	var fresh messages.SeatAssignedPayload
	expectEvent(t, c, messages.EventSeatAssigned, &fresh)
	assert.Equal(t, "first", fresh.Role)
	assert.Equal(t, startFEN, fresh.BoardFEN)
	assert.Equal(t, string(session.StatusWaiting), fresh.Status)
}

func TestSpectatorsKeepSessionWhenConfigured(t *testing.T) {
	h, _ := newTestHub(t, true)

	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	for _, conn := range []*Connection{a, b, c} {
		sendEvent(t, h, conn, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	}
	sendEvent(t, h, a, messages.TypeSubmitMove, rules.Move{From: "e2", To: "e4"})

	h.Unregister(a)
	h.Unregister(b)

	stats := barrier(t, h)
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, 0, stats.Sessions[0].Players)
	assert.Equal(t, 1, stats.Sessions[0].Spectators)

	d := connect(t, h, "d")
	sendEvent(t, h, d, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})

	var seat messages.SeatAssignedPayload
	expectEvent(t, d, messages.EventSeatAssigned, &seat)
	assert.Equal(t, "first", seat.Role)
	assert.Equal(t, chess.Black, seat.CurrentTurn, "position survives")
}

func TestDisconnectStopsClockAndReconnectResumes(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	expectEvent(t, a, messages.EventClockUpdate, nil)
	expectEvent(t, b, messages.EventClockUpdate, nil)

	h.Unregister(a)

	var stopped messages.ClockPayload
	expectEvent(t, b, messages.EventClockUpdate, &stopped)
	assert.False(t, stopped.Running)
	expectEvent(t, b, messages.EventParticipantLeft, nil)

	a2 := connect(t, h, "a2")
	sendEvent(t, h, a2, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})

	var seat messages.SeatAssignedPayload
	expectEvent(t, a2, messages.EventSeatAssigned, &seat)
	assert.Equal(t, "first", seat.Role)

	var resumed messages.ClockPayload
	expectEvent(t, b, messages.EventClockUpdate, &resumed)
	assert.True(t, resumed.Running)
}

func TestResetSession(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "room"})
	sendEvent(t, h, a, messages.TypeSubmitMove, rules.Move{From: "e2", To: "e4"})
	sendEvent(t, h, b, messages.TypeResetSession, nil)

	var pos messages.PositionUpdatePayload
	for !pos.Reset {
		expectEvent(t, a, messages.EventPositionUpdate, &pos)
	}
	assert.Equal(t, startFEN, pos.BoardFEN)
	assert.False(t, pos.Clock.Running)
	assert.Equal(t, int64(300), pos.Clock.WhiteTime)

	sendEvent(t, h, a, messages.TypeResetSession, messages.ResetSessionPayload{SessionID: "elsewhere"})

	var errPayload messages.ErrorPayload
	expectEvent(t, a, messages.EventError, &errPayload)
	assert.Equal(t, "unknown session", errPayload.Message)
}

func TestErrorEvents(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")

	tests := []struct {
		name    string
		typ     string
		payload json.RawMessage
		message string
	}{
		{"unknown type", "resign", nil, "unknown message type"},
		{"bad join payload", messages.TypeJoinSession, json.RawMessage(`[1,2]`), "invalid join-session payload"},
		{"empty session id", messages.TypeJoinSession, json.RawMessage(`{"session_id":"  "}`), "invalid session id"},
		{"bad session id", messages.TypeJoinSession, json.RawMessage(`{"session_id":"../etc"}`), "invalid session id"},
		{"bad move payload", messages.TypeSubmitMove, json.RawMessage(`"e2e4"`), "invalid submit-move payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, h.Dispatch(InboundHubMessage{
				Conn:    a,
				Message: messages.InboundMessage{Type: tt.typ, Payload: tt.payload},
			}))

			var payload messages.ErrorPayload
			expectEvent(t, a, messages.EventError, &payload)
			assert.Equal(t, tt.message, payload.Message)
		})
	}

	assert.Empty(t, barrier(t, h).Sessions)
}

func TestMatchmakingWaiterDisconnects(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	sendEvent(t, h, a, messages.TypeEnterMatchmaking, nil)
	expectEvent(t, a, messages.EventSearching, nil)
	assert.True(t, barrier(t, h).Searching)

	h.Unregister(a)
	assert.False(t, barrier(t, h).Searching)

	b := connect(t, h, "b")
	sendEvent(t, h, b, messages.TypeEnterMatchmaking, nil)
	expectEvent(t, b, messages.EventSearching, nil)
	assert.Empty(t, barrier(t, h).Sessions)
}

func TestTransportGroups(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	h.JoinGroup(a.ID, "room")
	h.JoinGroup(b.ID, "room")
	h.Broadcast("room", "ping", nil)

	expectEvent(t, a, "ping", nil)
	expectEvent(t, b, "ping", nil)

	h.LeaveGroup(a.ID, "room")
	h.Broadcast("room", "ping", nil)
	expectEvent(t, b, "ping", nil)
	assert.Empty(t, drain(a))

	assert.True(t, h.IsLive("a"))
	assert.False(t, h.IsLive("ghost"))

	h.Send("ghost", "ping", nil)
}

func TestConnectionHoldsOneSessionAtATime(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	c := connect(t, h, "c")

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "one"})
	sendEvent(t, h, c, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "one"})
	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: "two"})

	stats := barrier(t, h)
	require.Len(t, stats.Sessions, 2)
	assert.Equal(t, "one", stats.Sessions[0].ID)
	assert.Equal(t, 1, stats.Sessions[0].Players)
	assert.Equal(t, string(session.StatusWaiting), string(stats.Sessions[0].Status))
	assert.Equal(t, "two", stats.Sessions[1].ID)
	assert.Equal(t, 1, stats.Sessions[1].Players)

	var left messages.ParticipantLeftPayload
	expectEvent(t, c, messages.EventParticipantLeft, &left)
	assert.Equal(t, "first", left.Role)

	sendEvent(t, h, a, messages.TypeEnterMatchmaking, nil)
	expectEvent(t, a, messages.EventSearching, nil)

	stats = barrier(t, h)
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "one", stats.Sessions[0].ID)
	assert.True(t, stats.Searching)
}

func TestMatchedPartnerThatNeverJoinsIsReleased(t *testing.T) {
	h, _ := newTestHub(t, false)

	a := connect(t, h, "a")
	b := connect(t, h, "b")

	sendEvent(t, h, a, messages.TypeEnterMatchmaking, nil)
	sendEvent(t, h, b, messages.TypeEnterMatchmaking, nil)

	var matched messages.MatchedPayload
	expectEvent(t, a, messages.EventMatched, &matched)
	expectEvent(t, b, messages.EventMatched, nil)

	sendEvent(t, h, a, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: matched.SessionID, Seat: "first"})
	expectEvent(t, a, messages.EventWaiting, nil)

	sendEvent(t, h, a, messages.TypeLeaveSession, nil)

	var ended messages.SessionEndedPayload
	expectEvent(t, b, messages.EventSessionEnded, &ended)
	assert.Equal(t, "abandoned", ended.Outcome)
	assert.Empty(t, barrier(t, h).Sessions)

	sendEvent(t, h, b, messages.TypeJoinSession, messages.JoinSessionPayload{SessionID: matched.SessionID, Seat: "second"})

	var seat messages.SeatAssignedPayload
	expectEvent(t, b, messages.EventSeatAssigned, &seat)
	assert.Equal(t, "second", seat.Role)
	assert.Equal(t, string(session.StatusWaiting), seat.Status)
}
