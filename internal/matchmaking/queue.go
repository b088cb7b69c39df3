package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/obslog"
	"go.uber.org/zap"
)

var ErrAlreadyInGame = errors.New("already in a game")

const (
	baselineWait = 10 * time.Second
	perMatchWait = 30 * time.Second
	bufferWait   = 15 * time.Second
)

type Config struct {
	MinMatchInterval time.Duration
	MaxQueueTime     time.Duration
	CleanupInterval  time.Duration
	StatusInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinMatchInterval: time.Second,
		MaxQueueTime:     3 * time.Minute,
		CleanupInterval:  30 * time.Second,
		StatusInterval:   5 * time.Second,
	}
}

// Entry is one waiting connection.
type Entry struct {
	Conn          string
	JoinedAt      time.Time
	EstimatedWait time.Duration
}

// Status is what a queued connection is told about its place in line.
type Status struct {
	Position      int
	QueueSize     int
	EstimatedWait time.Duration
}

// Match is delivered once per side of a successful pairing.
type Match struct {
	SessionID string
	Conn      string
	Opponent  string
	Identity  board.Player
	Session   *game.Session
}

// Notifier receives every queue-originated message. Calls are made without
// holding queue locks.
type Notifier interface {
	QueueJoined(conn string, st Status)
	QueueStatus(conn string, st Status)
	QueueTimeout(conn string, waited time.Duration)
	MatchFound(m Match)
}

// Sessions is the slice of the session state machine pairing needs.
type Sessions interface {
	CreateSession(ctx context.Context) (*game.Session, error)
	AssignPlayer(ctx context.Context, id, conn string, requested board.Player) (game.Assignment, *game.Session, error)
	DiscardSession(ctx context.Context, id string) error
	InGame(ctx context.Context, conn string) (bool, error)
}

// Queue pairs waiting connections first come, first served.
type Queue struct {
	cfg      Config
	sessions Sessions
	notify   Notifier
	now      func() time.Time
	logger   *zap.Logger

	mu          sync.Mutex
	entries     []Entry
	inFlight    map[string]bool // value: left while being paired
	lastMatched time.Time

	// pairMu keeps a single pairing pass running; store calls happen under
	// it but never under mu.
	pairMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func NewQueue(cfg Config, sessions Sessions, notify Notifier, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = def.MaxQueueTime
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.MinMatchInterval < 0 {
		cfg.MinMatchInterval = 0
	}
	q := &Queue{
		cfg:      cfg,
		sessions: sessions,
		notify:   notify,
		now:      time.Now,
		logger:   obslog.L(),
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EstimateWait is a rough guess for a queue of n entries.
func EstimateWait(n int) time.Duration {
	if n <= 0 {
		return baselineWait
	}
	return time.Duration(n/2)*perMatchWait + bufferWait
}

// Join enqueues conn, reports its position and then tries to pair. A
// connection already queued keeps its place.
func (q *Queue) Join(ctx context.Context, conn string) (Status, error) {
	in, err := q.sessions.InGame(ctx, conn)
	if err != nil {
		return Status{}, err
	}
	if in {
		return Status{}, ErrAlreadyInGame
	}

	q.mu.Lock()
	if _, ok := q.inFlight[conn]; ok {
		q.mu.Unlock()
		return Status{}, ErrAlreadyInGame
	}
	st, queued := q.statusLocked(conn)
	if !queued {
		now := q.now()
		est := EstimateWait(len(q.entries) + 1)
		q.entries = append(q.entries, Entry{Conn: conn, JoinedAt: now, EstimatedWait: est})
		st = Status{Position: len(q.entries), QueueSize: len(q.entries), EstimatedWait: est}
	}
	q.mu.Unlock()

	if !queued {
		q.logger.Info("queue_join",
			zap.String("conn", conn),
			zap.Int("position", st.Position),
			zap.Duration("estimate", st.EstimatedWait),
		)
	}
	q.notify.QueueJoined(conn, st)
	q.TryPair(ctx)
	return st, nil
}

// Leave removes conn. A connection that is mid-pairing is marked so the
// pending match is rolled back; it still counts as present.
func (q *Queue) Leave(conn string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[conn]; ok {
		q.inFlight[conn] = true
		return true
	}
	for i, e := range q.entries {
		if e.Conn == conn {
			q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
			q.logger.Info("queue_leave", zap.String("conn", conn))
			return true
		}
	}
	return false
}

// Position reports conn's current status, if queued.
func (q *Queue) Position(conn string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked(conn)
}

func (q *Queue) statusLocked(conn string) (Status, bool) {
	now := q.now()
	for i, e := range q.entries {
		if e.Conn == conn {
			return Status{Position: i + 1, QueueSize: len(q.entries), EstimatedWait: decayed(e, now)}, true
		}
	}
	return Status{}, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot copies the queue in order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// TryPair matches the two oldest entries while at least two are waiting and
// MinMatchInterval has passed since the last match. It returns the number of
// matches made.
func (q *Queue) TryPair(ctx context.Context) int {
	q.pairMu.Lock()
	defer q.pairMu.Unlock()

	made := 0
	for {
		q.mu.Lock()
		if len(q.entries) < 2 || q.debouncedLocked() {
			q.mu.Unlock()
			return made
		}
		a, b := q.entries[0], q.entries[1]
		q.entries = append([]Entry(nil), q.entries[2:]...)
		q.inFlight[a.Conn] = false
		q.inFlight[b.Conn] = false
		q.mu.Unlock()

		if !q.pair(ctx, a, b) {
			return made
		}
		made++
	}
}

func (q *Queue) debouncedLocked() bool {
	if q.lastMatched.IsZero() {
		return false
	}
	return q.now().Sub(q.lastMatched) < q.cfg.MinMatchInterval
}

func (q *Queue) pair(ctx context.Context, a, b Entry) bool {
	s, err := q.sessions.CreateSession(ctx)
	if err != nil {
		q.logger.Warn("queue_pair_failed", zap.String("stage", "create"), zap.Error(err))
		q.requeue(a, b)
		return false
	}
	if _, _, err := q.sessions.AssignPlayer(ctx, s.ID, a.Conn, board.X); err != nil {
		q.abort(ctx, s.ID, a, b, err)
		return false
	}
	_, final, err := q.sessions.AssignPlayer(ctx, s.ID, b.Conn, board.O)
	if err != nil {
		q.abort(ctx, s.ID, a, b, err)
		return false
	}

	q.mu.Lock()
	leftA, leftB := q.inFlight[a.Conn], q.inFlight[b.Conn]
	if leftA || leftB {
		q.mu.Unlock()
		// Someone walked away mid-pairing; undo and keep the other in line.
		_ = q.sessions.DiscardSession(ctx, s.ID)
		q.requeue(a, b)
		q.logger.Info("queue_pair_abandoned", zap.String("session_id", s.ID))
		return false
	}
	delete(q.inFlight, a.Conn)
	delete(q.inFlight, b.Conn)
	q.lastMatched = q.now()
	q.mu.Unlock()

	q.logger.Info("queue_match",
		zap.String("session_id", s.ID),
		zap.String("x", a.Conn),
		zap.String("o", b.Conn),
		zap.Duration("waited_x", q.now().Sub(a.JoinedAt)),
	)
	q.notify.MatchFound(Match{SessionID: s.ID, Conn: a.Conn, Opponent: b.Conn, Identity: board.X, Session: final.Clone()})
	q.notify.MatchFound(Match{SessionID: s.ID, Conn: b.Conn, Opponent: a.Conn, Identity: board.O, Session: final.Clone()})
	return true
}

func (q *Queue) abort(ctx context.Context, id string, a, b Entry, cause error) {
	q.logger.Warn("queue_pair_failed", zap.String("stage", "assign"), zap.String("session_id", id), zap.Error(cause))
	if err := q.sessions.DiscardSession(ctx, id); err != nil {
		q.logger.Warn("queue_discard_failed", zap.String("session_id", id), zap.Error(err))
	}
	q.requeue(a, b)
}

// requeue puts a and b back at the front in their original order, dropping
// whichever left while the pairing was in flight.
func (q *Queue) requeue(a, b Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([]Entry, 0, 2)
	for _, e := range []Entry{a, b} {
		left := q.inFlight[e.Conn]
		delete(q.inFlight, e.Conn)
		if !left {
			front = append(front, e)
		}
	}
	q.entries = append(front, q.entries...)
}

// Sweep evicts entries that have waited longer than MaxQueueTime and tells
// each one it timed out.
func (q *Queue) Sweep() []string {
	now := q.now()
	type evicted struct {
		conn   string
		waited time.Duration
	}
	var out []evicted

	q.mu.Lock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if waited := now.Sub(e.JoinedAt); waited > q.cfg.MaxQueueTime {
			out = append(out, evicted{conn: e.Conn, waited: waited})
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	q.mu.Unlock()

	conns := make([]string, 0, len(out))
	for _, ev := range out {
		q.logger.Info("queue_timeout", zap.String("conn", ev.conn), zap.Duration("waited", ev.waited))
		q.notify.QueueTimeout(ev.conn, ev.waited)
		conns = append(conns, ev.conn)
	}
	return conns
}

// BroadcastStatus tells every queued connection its position, the queue size
// and the remaining estimate.
func (q *Queue) BroadcastStatus() {
	now := q.now()
	q.mu.Lock()
	statuses := make([]Status, len(q.entries))
	conns := make([]string, len(q.entries))
	for i, e := range q.entries {
		conns[i] = e.Conn
		statuses[i] = Status{Position: i + 1, QueueSize: len(q.entries), EstimatedWait: decayed(e, now)}
	}
	q.mu.Unlock()

	for i, conn := range conns {
		q.notify.QueueStatus(conn, statuses[i])
	}
}

func decayed(e Entry, now time.Time) time.Duration {
	left := e.EstimatedWait - now.Sub(e.JoinedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Start launches the cleanup and status tickers. The status tick also retries
// pairing so entries held back by the debounce get matched.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		ctx, q.cancel = context.WithCancel(ctx)
		q.wg.Add(2)
		go q.loop(ctx, q.cfg.CleanupInterval, func(context.Context) { q.Sweep() })
		go q.loop(ctx, q.cfg.StatusInterval, func(ctx context.Context) {
			q.TryPair(ctx)
			q.BroadcastStatus()
		})
	})
}

// Stop cancels the tickers and waits for them to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
	})
}

func (q *Queue) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer q.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
