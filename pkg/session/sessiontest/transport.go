// Package sessiontest provides a recording transport for session tests.
package sessiontest

import (
	"sort"
	"sync"
)

// Message is a single recorded send or broadcast
type Message struct {
	To         string // empty for broadcasts
	SessionID  string // empty for direct sends
	Event      string
	Payload    interface{}
	Recipients []string // group members at broadcast time
}

// Transport records everything a session or matchmaker emits
type Transport struct {
	mu         sync.Mutex
	live       map[string]bool
	groups     map[string]map[string]bool
	sent       []Message
	broadcasts []Message
}

// New returns a transport with the given connections live
func New(live ...string) *Transport {
	t := &Transport{
		live:   make(map[string]bool),
		groups: make(map[string]map[string]bool),
	}
	t.Connect(live...)
	return t
}

// Connect marks connections live
func (t *Transport) Connect(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.live[id] = true
	}
}

// Disconnect marks a connection dead without telling anyone
func (t *Transport) Disconnect(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, id)
}

func (t *Transport) Send(connID, event string, payload interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Message{To: connID, Event: event, Payload: payload})
}

func (t *Transport) Broadcast(sessionID, event string, payload interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	recipients := make([]string, 0, len(t.groups[sessionID]))
	for id := range t.groups[sessionID] {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)

	t.broadcasts = append(t.broadcasts, Message{
		SessionID:  sessionID,
		Event:      event,
		Payload:    payload,
		Recipients: recipients,
	})
}

func (t *Transport) JoinGroup(connID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[sessionID] == nil {
		t.groups[sessionID] = make(map[string]bool)
	}
	t.groups[sessionID][connID] = true
}

func (t *Transport) LeaveGroup(connID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[sessionID], connID)
}

func (t *Transport) IsLive(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[connID]
}

// SentTo returns direct messages of an event sent to a connection
func (t *Transport) SentTo(connID, event string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.sent {
		if m.To == connID && m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// Broadcasts returns broadcasts of an event, or all of them for ""
func (t *Transport) Broadcasts(event string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.broadcasts {
		if event == "" || m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// Members returns the sorted group members of a session
func (t *Transport) Members(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for id := range t.groups[sessionID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear drops recorded messages but keeps groups and liveness
func (t *Transport) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
	t.broadcasts = nil
}
