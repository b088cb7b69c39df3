package coordinator

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/park285/kriegspiel-server/internal/bot"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"go.uber.org/zap"
)

// botDriver plays every bot seat. Bots receive no payloads: any state-bearing
// event makes the bot reload its own filtered view and, if it may move, act
// after its thinking delay.
type botDriver struct {
	c     *Coordinator
	think bool

	mu     sync.Mutex
	seats  map[string]*botSeat
	rng    *rand.Rand
	closed bool
	wg     sync.WaitGroup
}

type botSeat struct {
	agent     *bot.Agent
	sessionID string
	timer     *time.Timer
	pending   bool
}

func newBotDriver(c *Coordinator, think bool, seed int64) *botDriver {
	return &botDriver{
		c:     c,
		think: think,
		seats: make(map[string]*botSeat),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (d *botDriver) add(handle, sessionID string, difficulty bot.Difficulty) {
	d.mu.Lock()
	defer d.mu.Unlock()
	agent := bot.NewAgent(difficulty, rand.New(rand.NewSource(d.rng.Int63())))
	d.seats[handle] = &botSeat{agent: agent, sessionID: sessionID}
}

func (d *botDriver) remove(handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seat, ok := d.seats[handle]
	if !ok {
		return
	}
	d.stopTimerLocked(seat)
	delete(d.seats, handle)
}

func (d *botDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seats)
}

func (d *botDriver) deliver(handle, event string) {
	switch event {
	case kriegdto.EventStateUpdate, kriegdto.EventSessionJoined, kriegdto.EventMatchFound, kriegdto.EventPlayerJoined:
		d.schedule(handle)
	}
}

func (d *botDriver) schedule(handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seat, ok := d.seats[handle]
	if !ok || d.closed || seat.pending {
		return
	}
	var delay time.Duration
	if d.think {
		delay = seat.agent.ThinkTime()
	}
	seat.pending = true
	d.wg.Add(1)
	seat.timer = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.act(handle)
	})
}

func (d *botDriver) stopTimerLocked(seat *botSeat) {
	if seat.timer != nil && seat.timer.Stop() {
		d.wg.Done()
	}
	seat.timer = nil
	seat.pending = false
}

func (d *botDriver) act(handle string) {
	d.mu.Lock()
	seat, ok := d.seats[handle]
	if ok {
		seat.pending = false
		seat.timer = nil
	}
	closed := d.closed
	d.mu.Unlock()
	if !ok || closed {
		return
	}
	defer d.c.recoverPanic(handle, "bot-move")

	ctx := d.c.ctx()
	s, err := d.c.mgr.Session(ctx, seat.sessionID)
	if errors.Is(err, game.ErrGameNotFound) {
		d.c.logger.Debug("bot_session_gone", zap.String("bot", handle), zap.String("session_id", seat.sessionID))
		d.remove(handle)
		if _, _, err := d.c.mgr.ReleasePlayer(ctx, handle); err != nil {
			d.c.logger.Warn("bot_release_failed", zap.String("bot", handle), zap.Error(err))
		}
		return
	}
	if err != nil {
		d.c.logger.Warn("bot_session_load_failed", zap.String("bot", handle), zap.Error(err))
		return
	}
	v := game.ViewFor(s, handle)
	if !v.CanMove {
		return
	}
	pos, err := seat.agent.ChooseMove(v)
	if err != nil {
		d.c.logger.Warn("bot_no_move", zap.String("bot", handle), zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	d.c.applyMove(ctx, handle, s.ID, pos)
}

func (d *botDriver) stop() {
	d.mu.Lock()
	d.closed = true
	for _, seat := range d.seats {
		d.stopTimerLocked(seat)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
