package notify

import (
	"context"
	"log/slog"
	"sync"
)

// jsonConn is the part of *websocket.Conn the registry uses.
type jsonConn interface {
	WriteJSON(v any) error
	Close() error
}

type wsSession struct {
	conn jsonConn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds connected admin sessions and broadcasts events to them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
	log      *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*wsSession), log: logger}
}

// Add registers conn for adminID, closing any session it replaces.
func (r *WSRegistry) Add(adminID string, conn jsonConn) {
	r.mu.Lock()
	old := r.sessions[adminID]
	r.sessions[adminID] = &wsSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops adminID's session if it is still conn.
func (r *WSRegistry) Remove(adminID string, conn jsonConn) {
	r.mu.Lock()
	s := r.sessions[adminID]
	if s == nil || s.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, adminID)
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Publish sends e to every session. Sessions that fail a write are
// dropped; the broadcast itself never fails.
func (r *WSRegistry) Publish(_ context.Context, e Event) error {
	r.mu.RLock()
	targets := make(map[string]*wsSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	for id, s := range targets {
		if err := s.send(e); err != nil {
			r.log.Warn("ws send failed, dropping session", "admin_id", id, "err", err)
			r.mu.Lock()
			if r.sessions[id] == s {
				delete(r.sessions, id)
			}
			r.mu.Unlock()
			_ = s.conn.Close()
		}
	}
	return nil
}
