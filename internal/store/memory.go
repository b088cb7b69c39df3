package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/kriegspiel-server/internal/game"
)

// Memory is the in-process session store used when REDIS_URL is unset.
// Entries expire ttl after their last write; a session write also extends the
// mappings of its seated connections.
type Memory struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	sessions map[string]memSession
	conns    map[string]memConn
}

type memSession struct {
	s       *game.Session
	expires time.Time
}

type memConn struct {
	id      string
	expires time.Time
}

var _ game.Store = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memSession),
		conns:    make(map[string]memConn),
	}
}

// WithClock swaps the clock used for expiry. Tests only.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && !m.now().Before(at)
}

func (m *Memory) CreateSession(ctx context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID]; ok && !m.expired(cur.expires) {
		return game.ErrSessionExists
	}
	m.sessions[s.ID] = memSession{s: s.Clone(), expires: m.expiry()}
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.sessions[strings.TrimSpace(id)]
	if !ok || m.expired(cur.expires) {
		return nil, nil
	}
	return cur.s.Clone(), nil
}

func (m *Memory) UpdateSession(ctx context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok || m.expired(cur.expires) {
		return game.ErrGameNotFound
	}
	exp := m.expiry()
	m.sessions[s.ID] = memSession{s: s.Clone(), expires: exp}
	for _, conn := range s.Participants() {
		if cur, ok := m.conns[conn]; ok && cur.id == s.ID && !m.expired(cur.expires) {
			cur.expires = exp
			m.conns[conn] = cur
		}
	}
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetConnectionSession(ctx context.Context, conn, id string) error {
	if strings.TrimSpace(conn) == "" {
		return nil
	}
	m.mu.Lock()
	m.conns[conn] = memConn{id: id, expires: m.expiry()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetConnectionSession(ctx context.Context, conn string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.conns[conn]
	if !ok || m.expired(cur.expires) {
		return "", nil
	}
	return cur.id, nil
}

func (m *Memory) ClearConnectionSession(ctx context.Context, conn string) error {
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()
	return nil
}

// ListSessions returns live sessions, oldest first.
func (m *Memory) ListSessions(ctx context.Context) ([]*game.Session, error) {
	m.mu.RLock()
	out := make([]*game.Session, 0, len(m.sessions))
	for _, cur := range m.sessions {
		if m.expired(cur.expires) {
			continue
		}
		out = append(out, cur.s.Clone())
	}
	m.mu.RUnlock()
	sortSessions(out)
	return out, nil
}

// SweepExpired drops expired sessions and every connection mapping that is
// expired or points at a session that no longer exists.
func (m *Memory) SweepExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, cur := range m.sessions {
		if m.expired(cur.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	for conn, cur := range m.conns {
		if _, ok := m.sessions[cur.id]; !ok || m.expired(cur.expires) {
			delete(m.conns, conn)
		}
	}
	return n, nil
}

func sortSessions(list []*game.Session) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
