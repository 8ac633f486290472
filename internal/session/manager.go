package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrOutOfOrderChunk marks a protocol violation upstream: a chunk index at or
// below one already processed for the session.
var ErrOutOfOrderChunk = errors.New("out-of-order chunk")

// ErrSessionNotFound marks lifecycle misuse: an operation against a session id
// that was never created.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionFinalized marks lifecycle misuse: a chunk or operation against a
// session id that was already torn down. Without it a straggler chunk would
// silently resurrect the session with its ordering state reset.
var ErrSessionFinalized = errors.New("session already finalized")

// maxTombstones bounds the finalized-id set; the oldest ids are evicted
// first. A straggler arriving after eviction recreates the session, which is
// indistinguishable from a genuinely new meeting reusing the id.
const maxTombstones = 1024

// Manager owns every live session, keyed by session id. Sessions are created
// on first chunk and torn down only by an explicit Finalize.
type Manager struct {
	parent     context.Context
	windowCap  int
	historyCap int
	logger     *slog.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	finalized map[string]struct{}
	graveyard []string // finalized ids in teardown order, for eviction
}

func NewManager(parent context.Context, windowCap, historyCap int, logger *slog.Logger) *Manager {
	return &Manager{
		parent:     parent,
		windowCap:  windowCap,
		historyCap: historyCap,
		logger:     logger,
		sessions:   make(map[string]*Session),
		finalized:  make(map[string]struct{}),
	}
}

// GetOrCreate returns the session for the chunk, creating it on first sight.
// A chunk for a finalized session is rejected with ErrSessionFinalized.
func (m *Manager) GetOrCreate(chunk Chunk) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[chunk.SessionID]
	_, dead := m.finalized[chunk.SessionID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if dead {
		return nil, ErrSessionFinalized
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chunk.SessionID]; ok {
		return s, nil
	}
	if _, dead := m.finalized[chunk.SessionID]; dead {
		return nil, ErrSessionFinalized
	}
	s = newSession(m.parent, chunk, m.windowCap, m.historyCap)
	m.sessions[chunk.SessionID] = s
	m.logger.Info("session created",
		"session_id", chunk.SessionID,
		"project_id", chunk.ProjectID,
	)
	return s, nil
}

// Get returns an existing session, ErrSessionFinalized for a torn-down id, or
// ErrSessionNotFound for an unknown one.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		if _, dead := m.finalized[id]; dead {
			return nil, ErrSessionFinalized
		}
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Finalize tears a session down: cancels its background tasks and drops its
// state. Idempotent misuse (unknown id) is reported to the caller.
func (m *Manager) Finalize(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.bury(id)
	}
	_, dead := m.finalized[id]
	m.mu.Unlock()

	if !ok {
		if dead {
			return ErrSessionFinalized
		}
		return ErrSessionNotFound
	}

	s.cancel()
	m.logger.Info("session finalized", "session_id", id)
	return nil
}

// bury records a finalized id so stragglers are rejected instead of
// recreating the session. Caller holds m.mu.
func (m *Manager) bury(id string) {
	if len(m.graveyard) >= maxTombstones {
		delete(m.finalized, m.graveyard[0])
		m.graveyard = m.graveyard[1:]
	}
	m.finalized[id] = struct{}{}
	m.graveyard = append(m.graveyard, id)
}

// ActiveIDs lists the ids of live sessions, for the admin surface.
func (m *Manager) ActiveIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every live session. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
	}
}
