// Package live pushes clue reveals to learners over WebSocket.
package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Closer is the part of a WebSocket connection the registry needs.
type Closer interface {
	Close(code websocket.StatusCode, reason string) error
}

type stream struct {
	activityID int64
	conn       Closer
	cancel     context.CancelFunc
}

// Registry tracks the active reveal stream of every user session.
// A session has at most one stream; registering a new one closes the old.
type Registry struct {
	mu     sync.RWMutex
	active map[int64]map[string]*stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[int64]map[string]*stream),
	}
}

// Register adds a stream for a user/session, replacing any previous one.
func (m *Registry) Register(userID int64, sessionID string, activityID int64, conn Closer, cancel context.CancelFunc) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*stream)
	}
	existing := m.active[userID][sessionID]
	m.active[userID][sessionID] = &stream{activityID: activityID, conn: conn, cancel: cancel}
	m.mu.Unlock()

	if existing != nil && existing.conn != conn {
		closeStreams([]*stream{existing}, "session replaced")
	}
	slog.Info("Reveal stream registered", "user_id", userID, "session_id", sessionID, "activity_id", activityID)
}

// Unregister removes a stream if conn is still the current one.
func (m *Registry) Unregister(userID int64, sessionID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current.conn == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Reveal stream unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseActivity terminates every stream watching activityID.
func (m *Registry) CloseActivity(activityID int64) {
	m.mu.Lock()
	var victims []*stream
	for userID, sessions := range m.active {
		for sid, s := range sessions {
			if s.activityID == activityID {
				victims = append(victims, s)
				delete(sessions, sid)
			}
		}
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
	}
	m.mu.Unlock()

	if len(victims) > 0 {
		slog.Info("Closing reveal streams of deleted activity", "activity_id", activityID, "count", len(victims))
	}
	closeStreams(victims, "activity deleted")
}

// CloseAll terminates every stream. Used on shutdown.
func (m *Registry) CloseAll() {
	m.mu.Lock()
	var victims []*stream
	for _, sessions := range m.active {
		for _, s := range sessions {
			victims = append(victims, s)
		}
	}
	m.active = make(map[int64]map[string]*stream)
	m.mu.Unlock()

	closeStreams(victims, "server shutting down")
}

// Count returns the number of active streams.
func (m *Registry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// closeStreams closes in parallel since each close waits for the peer's
// close frame.
func closeStreams(streams []*stream, reason string) {
	var wg sync.WaitGroup
	for _, s := range streams {
		if s.cancel != nil {
			s.cancel()
		}
		wg.Add(1)
		go func(s *stream) {
			defer wg.Done()
			if err := s.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
				slog.Debug("Failed to close reveal stream", "error", err, "activity_id", s.activityID)
			}
		}(s)
	}
	wg.Wait()
}
