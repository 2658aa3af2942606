// Package repository keeps the live sessions of the process
package repository

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/session"
)

// idLength is the length of generated session ids
const idLength = 8

// Factory builds a session for a given id
type Factory func(id string) *session.Session

// InMemorySessionRepository is the session registry. It owns the id to
// session map but never touches a session's internals.
type InMemorySessionRepository struct {
	sessions  map[string]*session.Session
	mu        sync.RWMutex
	factory   Factory
	newID     func() string
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository(factory Factory, publisher *events.Publisher, logger *zap.Logger) *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions:  make(map[string]*session.Session),
		factory:   factory,
		newID:     NewSessionID,
		publisher: publisher,
		logger:    logger,
	}
}

// NewSessionID returns a short, shareable alphanumeric token
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// GetOrCreate returns the session for id, creating and registering a fresh
// one when the id is unknown. It never fails.
func (r *InMemorySessionRepository) GetOrCreate(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}

	return r.createLocked(id)
}

// Create registers a session under a freshly generated id
func (r *InMemorySessionRepository) Create() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}

	return r.createLocked(id)
}

func (r *InMemorySessionRepository) createLocked(id string) *session.Session {
	s := r.factory(id)
	r.sessions[id] = s

	r.logger.Info("created new session", zap.String("session_id", id))
	r.publisher.Publish(events.Event{
		Type:      events.EventSessionCreated,
		SessionID: id,
	})

	return s
}

// Get retrieves a session by id
func (r *InMemorySessionRepository) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the mapping. Removing an unknown id is a no-op.
func (r *InMemorySessionRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return
	}

	delete(r.sessions, id)

	r.logger.Info("removed session", zap.String("session_id", id))
	r.publisher.Publish(events.Event{
		Type:      events.EventSessionRemoved,
		SessionID: id,
	})
}

// Count returns the number of live sessions
func (r *InMemorySessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// List returns all live sessions ordered by id
func (r *InMemorySessionRepository) List() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}
