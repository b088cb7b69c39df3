package game

import "context"

// Store persists sessions and the connection → session index. GetSession and
// GetConnectionSession return a zero value and no error when the key is
// missing. CreateSession fails with ErrSessionExists on an id collision.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, id string) error

	SetConnectionSession(ctx context.Context, conn, id string) error
	GetConnectionSession(ctx context.Context, conn string) (string, error)
	ClearConnectionSession(ctx context.Context, conn string) error

	ListSessions(ctx context.Context) ([]*Session, error)
	SweepExpired(ctx context.Context) (int, error)
}
