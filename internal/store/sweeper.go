package store

import (
	"context"
	"time"

	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/obslog"
	"go.uber.org/zap"
)

// Sweeper periodically asks a store to drop expired sessions.
type Sweeper struct {
	store    game.Store
	interval time.Duration
}

func NewSweeper(st game.Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: st, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and logs what it removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.store.SweepExpired(ctx)
	if err != nil {
		obslog.L().Warn("session_sweep_failed", zap.Error(err))
		return n
	}
	if n > 0 {
		obslog.L().Info("session_sweep", zap.Int("removed", n))
	}
	return n
}
