package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/obslog"
	"go.uber.org/zap"
)

const idAttempts = 5

// Manager owns every session mutation. Mutating calls for one session id are
// serialized by a keyed lock so the store read-modify-write never interleaves.
type Manager struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
	newID func() (string, error)
}

type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces NewSessionID.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
		newID: NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession allocates a fresh id and stores an empty waiting session.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	for i := 0; i < idAttempts; i++ {
		id, err := m.newID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		now := m.now()
		s := &Session{
			ID:           id,
			Status:       StatusWaiting,
			CurrentTurn:  board.X,
			Moves:        []Move{},
			CreatedAt:    now,
			LastActivity: now,
		}
		err = m.store.CreateSession(ctx, s)
		if errors.Is(err, ErrSessionExists) {
			obslog.L().Debug("session_id_collision", zap.String("session_id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		obslog.L().Info("session_create", zap.String("session_id", id))
		return s.Clone(), nil
	}
	return nil, ErrIDExhausted
}

// Session returns a copy of the stored session.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// SessionIDFor returns the session conn is seated in, or "".
func (m *Manager) SessionIDFor(ctx context.Context, conn string) (string, error) {
	if strings.TrimSpace(conn) == "" {
		return "", nil
	}
	return m.store.GetConnectionSession(ctx, conn)
}

// InGame reports whether conn is seated in a session that still exists. A
// mapping left behind by an expired session is cleared on the way.
func (m *Manager) InGame(ctx context.Context, conn string) (bool, error) {
	id, err := m.SessionIDFor(ctx, conn)
	if err != nil || id == "" {
		return false, err
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if s == nil || s.IdentityOf(conn) == board.None {
		_ = m.store.ClearConnectionSession(ctx, conn)
		return false, nil
	}
	return true, nil
}

// AssignPlayer seats conn in session id. requested may be board.None.
//
// Order matters: a handle that is already seated gets its seat back before
// anything else is considered, so retries never double-assign.
func (m *Manager) AssignPlayer(ctx context.Context, id, conn string, requested board.Player) (Assignment, *Session, error) {
	if strings.TrimSpace(conn) == "" {
		return Assignment{}, nil, ErrNotAParticipant
	}
	if requested != board.None && !requested.Valid() {
		return Assignment{}, nil, ErrInvalidIdentity
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return Assignment{}, nil, err
	}

	var a Assignment
	switch {
	case s.IdentityOf(conn) != board.None:
		a = Assignment{Identity: s.IdentityOf(conn), Reconnection: true}
	case requested != board.None && s.Slot(requested) != "":
		a = Assignment{Identity: requested, Reconnection: true, Evicted: s.Slot(requested)}
	case requested != board.None:
		a = Assignment{Identity: requested}
	case s.PlayerX == "":
		a = Assignment{Identity: board.X}
	case s.PlayerO == "":
		a = Assignment{Identity: board.O}
	default:
		return Assignment{}, s.Clone(), ErrGameFull
	}

	s.setSlot(a.Identity, conn)
	if s.Occupancy() == 2 && s.Status == StatusWaiting {
		s.Status = StatusActive
	}
	s.LastActivity = m.now()

	// The mapping goes in first so a stored seat always has one; a failed
	// session write puts the previous mapping back.
	prev, err := m.store.GetConnectionSession(ctx, conn)
	if err != nil {
		return Assignment{}, nil, fmt.Errorf("index connection: %w", err)
	}
	if err := m.store.SetConnectionSession(ctx, conn, s.ID); err != nil {
		return Assignment{}, nil, fmt.Errorf("index connection: %w", err)
	}
	if err := m.store.UpdateSession(ctx, s); err != nil {
		m.restoreMapping(ctx, conn, prev, s.ID)
		return Assignment{}, nil, fmt.Errorf("update session: %w", err)
	}
	if a.Evicted != "" {
		if prev, _ := m.store.GetConnectionSession(ctx, a.Evicted); prev == s.ID {
			_ = m.store.ClearConnectionSession(ctx, a.Evicted)
		}
	}

	obslog.L().Info("session_assign",
		zap.String("session_id", s.ID),
		zap.String("conn", conn),
		zap.String("identity", string(a.Identity)),
		zap.Bool("reconnection", a.Reconnection),
		zap.String("evicted", a.Evicted),
		zap.String("status", string(s.Status)),
	)
	return a, s.Clone(), nil
}

// AttemptMove validates and applies a move by conn at pos. Rule violations
// come back as Failed with a nil error; a non-nil error means the store failed
// and nothing should be reported as done.
func (m *Manager) AttemptMove(ctx context.Context, id, conn string, pos board.Position) (MoveOutcome, *Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	me := s.IdentityOf(conn)
	switch {
	case me == board.None:
		return Failed{Reason: ErrNotAParticipant}, s.Clone(), nil
	case s.Status != StatusActive:
		return Failed{Reason: ErrNotActive}, s.Clone(), nil
	case s.CurrentTurn != me:
		return Failed{Reason: ErrNotYourTurn}, s.Clone(), nil
	case !pos.Valid():
		return Failed{Reason: ErrInvalidPosition}, s.Clone(), nil
	}

	now := m.now()
	var out MoveOutcome
	if board.CellAt(s.Board, pos) != board.Empty {
		s.Revealed = s.Revealed.With(pos)
		s.CurrentTurn = me.Opponent()
		out = Rejected{Revealed: pos}
	} else {
		s.Board = board.Place(s.Board, pos, me)
		s.Moves = append(s.Moves, Move{Player: me, Position: pos, At: now})
		acc := Accepted{Position: pos}
		if res := board.Terminal(s.Board); res != nil {
			s.Status = StatusCompleted
			s.Result = res
			acc.Terminal = true
			acc.Result = res
		} else {
			s.CurrentTurn = me.Opponent()
		}
		out = acc
	}
	s.LastActivity = now

	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("update session: %w", err)
	}

	fields := []zap.Field{
		zap.String("session_id", s.ID),
		zap.String("player", string(me)),
		zap.String("pos", pos.Key()),
		zap.String("turn", string(s.CurrentTurn)),
		zap.String("status", string(s.Status)),
	}
	if _, ok := out.(Rejected); ok {
		obslog.L().Info("move_collision", fields...)
	} else {
		obslog.L().Info("move_placed", fields...)
	}
	return out, s.Clone(), nil
}

// ReleasePlayer frees conn's seat. The session is deleted once empty; an
// active game left with one player goes back to waiting so the other side can
// reconnect. A conn that is not seated anywhere is a no-op.
func (m *Manager) ReleasePlayer(ctx context.Context, conn string) (Release, *Session, error) {
	id, err := m.SessionIDFor(ctx, conn)
	if err != nil {
		return Release{}, nil, err
	}
	if id == "" {
		return Release{}, nil, nil
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return Release{}, nil, err
	}
	if s == nil {
		_ = m.store.ClearConnectionSession(ctx, conn)
		return Release{SessionID: id}, nil, nil
	}
	me := s.IdentityOf(conn)
	if me == board.None {
		_ = m.store.ClearConnectionSession(ctx, conn)
		return Release{SessionID: id, Remaining: s.Occupancy()}, s.Clone(), nil
	}

	s.setSlot(me, "")
	rel := Release{SessionID: id, Identity: me, Remaining: s.Occupancy()}
	if err := m.store.ClearConnectionSession(ctx, conn); err != nil {
		return Release{}, nil, fmt.Errorf("clear connection: %w", err)
	}

	if rel.Remaining == 0 {
		if err := m.store.DeleteSession(ctx, id); err != nil {
			return Release{}, nil, fmt.Errorf("delete session: %w", err)
		}
		rel.Deleted = true
		obslog.L().Info("session_delete", zap.String("session_id", id), zap.String("reason", "empty"))
		return rel, s.Clone(), nil
	}

	if s.Status == StatusActive {
		s.Status = StatusWaiting
	}
	s.LastActivity = m.now()
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return Release{}, nil, fmt.Errorf("update session: %w", err)
	}
	obslog.L().Info("session_release",
		zap.String("session_id", id),
		zap.String("identity", string(me)),
		zap.Int("remaining", rel.Remaining),
		zap.String("status", string(s.Status)),
	)
	return rel, s.Clone(), nil
}

// DiscardSession removes a session and the connection mappings pointing at
// it. Used to roll back a half-built match.
func (m *Manager) DiscardSession(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	for _, conn := range s.Participants() {
		if cur, _ := m.store.GetConnectionSession(ctx, conn); cur == id {
			_ = m.store.ClearConnectionSession(ctx, conn)
		}
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	obslog.L().Info("session_delete", zap.String("session_id", id), zap.String("reason", "discard"))
	return nil
}

func (m *Manager) restoreMapping(ctx context.Context, conn, prev, id string) {
	if prev == id {
		return
	}
	var err error
	if prev == "" {
		err = m.store.ClearConnectionSession(ctx, conn)
	} else {
		err = m.store.SetConnectionSession(ctx, conn, prev)
	}
	if err != nil {
		obslog.L().Warn("mapping_restore_failed", zap.String("conn", conn), zap.String("session_id", id), zap.Error(err))
	}
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, ErrGameNotFound
	}
	return s, nil
}
