package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/matchmaking"
	"github.com/park285/kriegspiel-server/internal/msgcat"
	"github.com/park285/kriegspiel-server/internal/store"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	msgs    map[string][]kriegdto.Envelope
	severed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: map[string][]kriegdto.Envelope{}}
}

func (f *fakeTransport) Send(conn string, env kriegdto.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[conn] = append(f.msgs[conn], env)
	return nil
}

func (f *fakeTransport) Disconnect(conn, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.severed = append(f.severed, conn)
	return nil
}

func (f *fakeTransport) events(conn string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs[conn]))
	for _, e := range f.msgs[conn] {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeTransport) last(conn, event string) (kriegdto.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.msgs[conn]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Event == event {
			return list[i], true
		}
	}
	return kriegdto.Envelope{}, false
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.msgs = map[string][]kriegdto.Envelope{}
	f.mu.Unlock()
}

func lastPayload[T any](t *testing.T, f *fakeTransport, conn, event string) T {
	t.Helper()
	env, ok := f.last(conn, event)
	require.True(t, ok, "%s never received %s (got %v)", conn, event, f.events(conn))
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// flakyStore fails UpdateSession while failing is set.
type flakyStore struct {
	*store.Memory
	failing atomic.Bool
}

func (f *flakyStore) UpdateSession(ctx context.Context, s *game.Session) error {
	if f.failing.Load() {
		return errors.New("connection reset")
	}
	return f.Memory.UpdateSession(ctx, s)
}

type harness struct {
	c  *Coordinator
	tr *fakeTransport
	st *flakyStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := &flakyStore{Memory: store.NewMemory(time.Hour)}
	clk := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := New(game.NewManager(st), Options{
		Queue:   matchmaking.DefaultConfig(),
		Catalog: msgcat.MustDefault(),
		Now:     func() time.Time { return clk },
		Seed:    99,
	})
	tr := newFakeTransport()
	c.AttachTransport(tr)
	t.Cleanup(c.Stop)
	return &harness{c: c, tr: tr, st: st}
}

func (h *harness) emit(conn, event string, data any) {
	env, err := kriegdto.NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	h.c.HandleEvent(context.Background(), conn, env)
}

func (h *harness) move(conn string, row, col int) {
	h.emit(conn, kriegdto.EventMakeMove, map[string]int{"row": row, "col": col})
}

// pair creates a session with a as X and b as O.
func (h *harness) pair(t *testing.T, a, b string) string {
	t.Helper()
	h.emit(a, kriegdto.EventCreateSession, nil)
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, a, kriegdto.EventSessionCreated)
	h.emit(b, kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: created.SessionID})
	joined := lastPayload[kriegdto.SessionJoined](t, h.tr, b, kriegdto.EventSessionJoined)
	require.True(t, joined.Success)
	h.tr.reset()
	return created.SessionID
}

func TestCreateThenJoin(t *testing.T) {
	h := newHarness(t)

	h.emit("a", kriegdto.EventCreateSession, nil)
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, "a", kriegdto.EventSessionCreated)
	assert.Equal(t, "X", created.Identity)
	assert.Equal(t, string(game.StatusWaiting), created.View.Status)
	assert.Len(t, created.SessionID, 4)

	h.emit("b", kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: created.SessionID})
	joined := lastPayload[kriegdto.SessionJoined](t, h.tr, "b", kriegdto.EventSessionJoined)
	require.True(t, joined.Success)
	assert.Equal(t, "O", joined.Identity)
	assert.Equal(t, string(game.StatusActive), joined.View.Status)
	assert.False(t, joined.View.CanMove)

	presence := lastPayload[kriegdto.PlayerPresence](t, h.tr, "a", kriegdto.EventPlayerJoined)
	assert.Equal(t, "O", presence.Identity)
	assert.Equal(t, 2, presence.PlayerCount)
	update := lastPayload[kriegdto.StateUpdate](t, h.tr, "a", kriegdto.EventStateUpdate)
	assert.True(t, update.View.CanMove)
}

func TestJoinLowerCaseCode(t *testing.T) {
	h := newHarness(t)
	h.emit("a", kriegdto.EventCreateSession, nil)
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, "a", kriegdto.EventSessionCreated)

	lower := []byte(created.SessionID)
	for i, ch := range lower {
		if ch >= 'A' && ch <= 'Z' {
			lower[i] = ch + ('a' - 'A')
		}
	}
	h.emit("b", kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: string(lower)})
	joined := lastPayload[kriegdto.SessionJoined](t, h.tr, "b", kriegdto.EventSessionJoined)
	assert.True(t, joined.Success)
	assert.Equal(t, created.SessionID, joined.SessionID)
}

func TestKriegspielCollisionBroadcast(t *testing.T) {
	h := newHarness(t)
	h.pair(t, "a", "b")

	h.move("a", 0, 0)
	res := lastPayload[kriegdto.MoveResult](t, h.tr, "a", kriegdto.EventMoveResult)
	assert.True(t, res.Success)
	assert.Equal(t, kriegdto.OutcomeAccepted, res.Outcome)

	bView := lastPayload[kriegdto.StateUpdate](t, h.tr, "b", kriegdto.EventStateUpdate).View
	assert.Equal(t, "", bView.Board[0][0], "X's mark must stay hidden from O")
	assert.True(t, bView.CanMove)

	h.move("b", 0, 0)
	res = lastPayload[kriegdto.MoveResult](t, h.tr, "b", kriegdto.EventMoveResult)
	assert.False(t, res.Success)
	assert.Equal(t, kriegdto.OutcomeRejected, res.Outcome)
	require.NotNil(t, res.Revealed)
	assert.Equal(t, kriegdto.Position{Row: 0, Col: 0}, *res.Revealed)

	bView = lastPayload[kriegdto.StateUpdate](t, h.tr, "b", kriegdto.EventStateUpdate).View
	assert.Equal(t, "X", bView.Board[0][0])
	assert.False(t, bView.CanMove)
	assert.Equal(t, []kriegdto.Position{{Row: 0, Col: 0}}, bView.Revealed)

	aView := lastPayload[kriegdto.StateUpdate](t, h.tr, "a", kriegdto.EventStateUpdate).View
	assert.True(t, aView.CanMove)
	assert.Equal(t, "X", aView.CurrentTurn)
}

func TestWinEndsSession(t *testing.T) {
	h := newHarness(t)
	h.pair(t, "a", "b")

	h.move("a", 0, 0)
	h.move("b", 1, 0)
	h.move("a", 0, 1)
	h.move("b", 1, 1)
	h.move("a", 0, 2)

	for _, conn := range []string{"a", "b"} {
		over := lastPayload[kriegdto.SessionOver](t, h.tr, conn, kriegdto.EventSessionOver)
		assert.Equal(t, "X", over.Result.Winner)
		assert.False(t, over.Result.Draw)
		assert.Equal(t, []kriegdto.Position{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 0, Col: 2}}, over.Result.Line)
		assert.Equal(t, "O", over.Board[1][0], "final board is disclosed in full")
	}

	h.move("b", 2, 2)
	res := lastPayload[kriegdto.MoveResult](t, h.tr, "b", kriegdto.EventMoveResult)
	assert.Equal(t, kriegdto.CodeNotActive, res.Code)
}

func TestMoveRuleFailuresAnswerOnlyTheActor(t *testing.T) {
	h := newHarness(t)
	h.pair(t, "a", "b")

	h.move("b", 0, 0)
	res := lastPayload[kriegdto.MoveResult](t, h.tr, "b", kriegdto.EventMoveResult)
	assert.Equal(t, kriegdto.OutcomeFailed, res.Outcome)
	assert.Equal(t, kriegdto.CodeNotYourTurn, res.Code)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, h.tr.events("a"))

	h.move("stranger", 0, 0)
	res = lastPayload[kriegdto.MoveResult](t, h.tr, "stranger", kriegdto.EventMoveResult)
	assert.Equal(t, kriegdto.OutcomeFailed, res.Outcome)
	assert.Equal(t, kriegdto.CodeNotAParticipant, res.Code)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t)

	h.emit("a", kriegdto.EventMakeMove, map[string]int{"row": 5, "col": 0})
	e := lastPayload[kriegdto.ErrorPayload](t, h.tr, "a", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeInvalidPosition, e.Code)

	h.emit("b", kriegdto.EventMakeMove, map[string]int{"row": 1})
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "b", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeInvalidPosition, e.Code)

	h.emit("c", kriegdto.EventJoinSession, map[string]string{"sessionId": "ab"})
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "c", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeInvalidSessionID, e.Code)

	h.emit("d", kriegdto.EventJoinSession, map[string]string{"sessionId": "AB0D"})
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "d", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeInvalidSessionID, e.Code)

	h.emit("e", "teleport", nil)
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "e", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeUnknownEvent, e.Code)

	h.c.HandleEvent(context.Background(), "f", kriegdto.Envelope{Event: kriegdto.EventMakeMove, Data: json.RawMessage(`{"row":`)})
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "f", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeValidation, e.Code)

	h.emit("g", kriegdto.EventCreateBotSession, map[string]string{"difficulty": "impossible"})
	e = lastPayload[kriegdto.ErrorPayload](t, h.tr, "g", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeValidation, e.Code)
}

func TestJoinMissingAndFullSessions(t *testing.T) {
	h := newHarness(t)
	id := h.pair(t, "a", "b")

	h.emit("c", kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: "ZZZZ"})
	nf := lastPayload[kriegdto.SessionRef](t, h.tr, "c", kriegdto.EventSessionNotFound)
	assert.Equal(t, "ZZZZ", nf.SessionID)
	assert.Contains(t, nf.Message, "ZZZZ")

	h.emit("c", kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: id})
	full := lastPayload[kriegdto.SessionRef](t, h.tr, "c", kriegdto.EventSessionFull)
	assert.Equal(t, id, full.SessionID)
	assert.Empty(t, h.tr.events("a"))
}

func TestRateLimitMoves(t *testing.T) {
	h := newHarness(t)
	h.move("a", 0, 0)
	h.move("a", 0, 0)
	h.move("a", 0, 0)

	assert.Equal(t, []string{kriegdto.EventMoveResult, kriegdto.EventMoveResult, kriegdto.EventError}, h.tr.events("a"))
	e := lastPayload[kriegdto.ErrorPayload](t, h.tr, "a", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeRateLimited, e.Code)
	assert.True(t, e.Retryable)
}

func TestReconnectionSeversStaleHandle(t *testing.T) {
	h := newHarness(t)
	id := h.pair(t, "a", "b")

	h.emit("a2", kriegdto.EventJoinSession, kriegdto.JoinSessionRequest{SessionID: id, Identity: "x"})
	joined := lastPayload[kriegdto.SessionJoined](t, h.tr, "a2", kriegdto.EventSessionJoined)
	require.True(t, joined.Success)
	assert.True(t, joined.Reconnection)
	assert.Equal(t, "X", joined.Identity)
	assert.Equal(t, []string{"a"}, h.tr.severed)

	// The severed handle disconnecting later must not free the new seat.
	h.c.HandleDisconnect(context.Background(), "a")
	s, err := h.c.Manager().Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "a2", s.PlayerX)
	assert.Equal(t, game.StatusActive, s.Status)
}

func TestLeaveAndDisconnect(t *testing.T) {
	h := newHarness(t)
	id := h.pair(t, "a", "b")

	h.emit("b", kriegdto.EventLeaveSession, nil)
	ack := lastPayload[kriegdto.PlayerPresence](t, h.tr, "b", kriegdto.EventPlayerLeft)
	assert.Equal(t, "O", ack.Identity)
	assert.Equal(t, 1, ack.PlayerCount)
	left := lastPayload[kriegdto.PlayerPresence](t, h.tr, "a", kriegdto.EventPlayerLeft)
	assert.Equal(t, 1, left.PlayerCount)
	update := lastPayload[kriegdto.StateUpdate](t, h.tr, "a", kriegdto.EventStateUpdate)
	assert.Equal(t, string(game.StatusWaiting), update.View.Status)

	h.emit("b", kriegdto.EventLeaveSession, nil)
	e := lastPayload[kriegdto.ErrorPayload](t, h.tr, "b", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeNotInSession, e.Code)

	h.c.HandleDisconnect(context.Background(), "a")
	_, err := h.c.Manager().Session(context.Background(), id)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
}

func TestQueueMatchFlow(t *testing.T) {
	h := newHarness(t)

	h.emit("a", kriegdto.EventJoinQueue, nil)
	st := lastPayload[kriegdto.QueueStatus](t, h.tr, "a", kriegdto.EventQueueJoined)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, int64(15000), st.EstimatedWaitMs)

	h.emit("b", kriegdto.EventJoinQueue, nil)
	ma := lastPayload[kriegdto.MatchFound](t, h.tr, "a", kriegdto.EventMatchFound)
	mb := lastPayload[kriegdto.MatchFound](t, h.tr, "b", kriegdto.EventMatchFound)
	assert.Equal(t, ma.SessionID, mb.SessionID)
	assert.Equal(t, "X", ma.Identity)
	assert.Equal(t, "O", mb.Identity)
	assert.True(t, ma.View.CanMove)
	assert.False(t, mb.View.CanMove)
	assert.Equal(t, 0, h.c.Queue().Len())

	h.emit("a", kriegdto.EventJoinQueue, nil)
	qe := lastPayload[kriegdto.ErrorPayload](t, h.tr, "a", kriegdto.EventQueueError)
	assert.Equal(t, kriegdto.CodeAlreadyInGame, qe.Code)

	h.emit("c", kriegdto.EventJoinQueue, nil)
	h.emit("c", kriegdto.EventLeaveQueue, nil)
	ql := lastPayload[kriegdto.QueueLeft](t, h.tr, "c", kriegdto.EventQueueLeft)
	assert.True(t, ql.Removed)
}

func TestStoreFailureIsNeverReportedAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.pair(t, "a", "b")

	h.st.failing.Store(true)
	h.move("a", 1, 1)
	e := lastPayload[kriegdto.ErrorPayload](t, h.tr, "a", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeStoreUnavailable, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, []string{kriegdto.EventError}, h.tr.events("a"))
	assert.Empty(t, h.tr.events("b"))
}

func TestBotSessionPlaysBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emit("h", kriegdto.EventCreateBotSession, kriegdto.CreateBotSessionRequest{Difficulty: "easy", Identity: "X"})
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, "h", kriegdto.EventSessionCreated)
	assert.Equal(t, "X", created.Identity)
	assert.Equal(t, string(game.StatusActive), created.View.Status)
	assert.True(t, created.View.CanMove)

	h.move("h", 1, 1)
	require.Eventually(t, func() bool {
		s, err := h.c.Manager().Session(ctx, created.SessionID)
		return err == nil && s.CurrentTurn == board.X
	}, 2*time.Second, 5*time.Millisecond, "bot never answered")

	h.emit("h", kriegdto.EventLeaveSession, nil)
	_, err := h.c.Manager().Session(ctx, created.SessionID)
	assert.ErrorIs(t, err, game.ErrGameNotFound, "bots alone must not keep a session alive")
	assert.Equal(t, 0, h.c.bots.count())
}

func TestBotSeatDroppedWhenSessionVanishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emit("h", kriegdto.EventCreateBotSession, kriegdto.CreateBotSessionRequest{Identity: "X"})
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, "h", kriegdto.EventSessionCreated)
	require.Equal(t, 1, h.c.bots.count())

	var handle string
	h.c.bots.mu.Lock()
	for k := range h.c.bots.seats {
		handle = k
	}
	h.c.bots.mu.Unlock()

	require.NoError(t, h.st.DeleteSession(ctx, created.SessionID))
	h.c.bots.schedule(handle)

	require.Eventually(t, func() bool { return h.c.bots.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	id, err := h.c.Manager().SessionIDFor(ctx, handle)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestBotMovesFirstWhenHumanPlaysO(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emit("h", kriegdto.EventCreateBotSession, kriegdto.CreateBotSessionRequest{Identity: "o"})
	created := lastPayload[kriegdto.SessionCreated](t, h.tr, "h", kriegdto.EventSessionCreated)
	assert.Equal(t, "O", created.Identity)

	require.Eventually(t, func() bool {
		s, err := h.c.Manager().Session(ctx, created.SessionID)
		return err == nil && len(s.Moves) == 1 && s.CurrentTurn == board.O
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		env, ok := h.tr.last("h", kriegdto.EventStateUpdate)
		if !ok {
			return false
		}
		var u kriegdto.StateUpdate
		return json.Unmarshal(env.Data, &u) == nil && u.View.CanMove
	}, time.Second, 5*time.Millisecond)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	h.emit("a", kriegdto.EventPing, nil)
	p := lastPayload[kriegdto.Pong](t, h.tr, "a", kriegdto.EventPong)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), p.Time)
}

func TestPanicIsContained(t *testing.T) {
	c := New(nil, Options{Catalog: msgcat.MustDefault()})
	tr := newFakeTransport()
	c.AttachTransport(tr)

	require.NotPanics(t, func() {
		env, _ := kriegdto.NewEnvelope(kriegdto.EventCreateSession, nil)
		c.HandleEvent(context.Background(), "a", env)
	})
	e := lastPayload[kriegdto.ErrorPayload](t, tr, "a", kriegdto.EventError)
	assert.Equal(t, kriegdto.CodeServerError, e.Code)
}
