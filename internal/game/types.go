package game

import (
	"errors"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
)

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting-for-players"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusAbandoned is reserved; nothing transitions into it yet.
	StatusAbandoned Status = "abandoned"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGameFull        = errors.New("game is full")
	ErrNotAParticipant = errors.New("not a participant")
	ErrNotActive       = errors.New("game is not active")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrSessionExists   = errors.New("session id already in use")
	ErrIDExhausted     = errors.New("failed to allocate session id")
)

// Move is one successful placement.
type Move struct {
	Player   board.Player   `json:"player"`
	Position board.Position `json:"position"`
	At       time.Time      `json:"at"`
}

// Session is the server-authoritative state of one match. Only Manager
// mutates it; everything handed to clients goes through View.
type Session struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	Board        board.Board       `json:"board"`
	CurrentTurn  board.Player      `json:"current_turn"`
	PlayerX      string            `json:"player_x,omitempty"`
	PlayerO      string            `json:"player_o,omitempty"`
	Revealed     board.PositionSet `json:"revealed"`
	Moves        []Move            `json:"moves"`
	Result       *board.Result     `json:"result,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// Slot returns the connection handle seated as p.
func (s *Session) Slot(p board.Player) string {
	switch p {
	case board.X:
		return s.PlayerX
	case board.O:
		return s.PlayerO
	default:
		return ""
	}
}

func (s *Session) setSlot(p board.Player, conn string) {
	switch p {
	case board.X:
		s.PlayerX = conn
	case board.O:
		s.PlayerO = conn
	}
}

// IdentityOf resolves a connection handle to its seat.
func (s *Session) IdentityOf(conn string) board.Player {
	if conn == "" {
		return board.None
	}
	if s.PlayerX == conn {
		return board.X
	}
	if s.PlayerO == conn {
		return board.O
	}
	return board.None
}

// Occupancy counts filled seats.
func (s *Session) Occupancy() int {
	n := 0
	if s.PlayerX != "" {
		n++
	}
	if s.PlayerO != "" {
		n++
	}
	return n
}

// Participants lists seated handles, X first.
func (s *Session) Participants() []string {
	out := make([]string, 0, 2)
	if s.PlayerX != "" {
		out = append(out, s.PlayerX)
	}
	if s.PlayerO != "" {
		out = append(out, s.PlayerO)
	}
	return out
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Moves = append([]Move(nil), s.Moves...)
	if s.Result != nil {
		r := *s.Result
		r.Line = append([]board.Position(nil), s.Result.Line...)
		cp.Result = &r
	}
	return &cp
}

// Assignment reports where AssignPlayer seated a connection. Evicted holds
// the handle that previously owned the seat on a takeover reconnection; the
// caller must stop delivering to it.
type Assignment struct {
	Identity     board.Player
	Reconnection bool
	Evicted      string
}

// Release reports what ReleasePlayer changed.
type Release struct {
	SessionID string
	Identity  board.Player
	Remaining int
	Deleted   bool
}

// MoveOutcome is one of Accepted, Rejected or Failed.
type MoveOutcome interface {
	outcome()
}

// Accepted means the mark was placed.
type Accepted struct {
	Position board.Position
	Terminal bool
	Result   *board.Result
}

// Rejected is the Kriegspiel collision: the target was occupied, nothing was
// placed, the cell is now revealed and the turn passed to the opponent.
type Rejected struct {
	Revealed board.Position
}

// Failed is a rule violation that changed nothing.
type Failed struct {
	Reason error
}

func (Accepted) outcome() {}
func (Rejected) outcome() {}
func (Failed) outcome()   {}
