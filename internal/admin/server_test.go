package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net"
	"testing"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fixture struct {
	mem *store.Memory
	mgr *game.Manager
	srv *Server
	now time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.mem = store.NewMemory(time.Hour).WithClock(clock)
	f.mgr = game.NewManager(f.mem, game.WithClock(clock))
	f.srv = New(f.mem, opts)
	return f
}

// activeSession seats x and o and plays X at the centre.
func (f *fixture) activeSession(t *testing.T) *game.Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx)
	require.NoError(t, err)
	_, _, err = f.mgr.AssignPlayer(ctx, s.ID, "x", board.X)
	require.NoError(t, err)
	_, _, err = f.mgr.AssignPlayer(ctx, s.ID, "o", board.O)
	require.NoError(t, err)
	_, s, err = f.mgr.AttemptMove(ctx, s.ID, "x", board.Position{Row: 1, Col: 1})
	require.NoError(t, err)
	return s
}

func (f *fixture) do(method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	rc := &fasthttp.RequestCtx{}
	rc.Init(&req, nil, nil)
	f.srv.Handler(rc)
	return rc
}

func decode[T any](t *testing.T, rc *fasthttp.RequestCtx) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rc.Response.Body(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{QueueLen: func() int { return 3 }})
	rc := f.do(fasthttp.MethodGet, "/healthz")
	assert.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
	body := decode[map[string]any](t, rc)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["queue"])
}

func TestHealthzDegradedWhenStoreDown(t *testing.T) {
	f := newFixture(t, Options{Ping: func(context.Context) error { return errors.New("connection refused") }})
	rc := f.do(fasthttp.MethodGet, "/healthz")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, rc.Response.StatusCode())
	assert.Equal(t, "degraded", decode[map[string]any](t, rc)["status"])
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.activeSession(t)

	rc := f.do(fasthttp.MethodGet, "/sessions")
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
	body := decode[struct {
		Sessions []sessionSummary `json:"sessions"`
		Count    int              `json:"count"`
	}](t, rc)
	require.Equal(t, 1, body.Count)
	got := body.Sessions[0]
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, string(game.StatusActive), got.Status)
	assert.Equal(t, 2, got.PlayerCount)
	assert.Equal(t, "O", got.CurrentTurn)
	assert.Equal(t, 1, got.Moves)
}

func TestSessionDetail(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.activeSession(t)

	rc := f.do(fasthttp.MethodGet, "/sessions/"+s.ID)
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
	got := decode[game.Session](t, rc)
	assert.Equal(t, board.X, board.CellAt(got.Board, board.Position{Row: 1, Col: 1}))

	assert.Equal(t, fasthttp.StatusNotFound, f.do(fasthttp.MethodGet, "/sessions/ZZZZ").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, f.do(fasthttp.MethodGet, "/sessions/toolong").Response.StatusCode())
}

func TestBoardPNG(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.activeSession(t)

	for _, uri := range []string{
		"/sessions/" + s.ID + "/board.png",
		"/sessions/" + s.ID + "/board.png?viewer=o",
	} {
		rc := f.do(fasthttp.MethodGet, uri)
		require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode(), uri)
		assert.Equal(t, "image/png", string(rc.Response.Header.ContentType()))
		_, err := png.Decode(bytes.NewReader(rc.Response.Body()))
		require.NoError(t, err, uri)
	}

	rc := f.do(fasthttp.MethodGet, "/sessions/"+s.ID+"/board.png?viewer=Z")
	assert.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
}

func TestSweep(t *testing.T) {
	f := newFixture(t, Options{})
	f.activeSession(t)
	f.now = f.now.Add(2 * time.Hour)

	rc := f.do(fasthttp.MethodPost, "/sweep")
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
	assert.Equal(t, 1, decode[map[string]int](t, rc)["removed"])

	assert.Equal(t, fasthttp.StatusMethodNotAllowed, f.do(fasthttp.MethodGet, "/sweep").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, f.do(fasthttp.MethodGet, "/nope").Response.StatusCode())
}

func TestServeOverListener(t *testing.T) {
	f := newFixture(t, Options{})
	ln := fasthttputil.NewInmemoryListener()
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ln) }()

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://admin/healthz")
	req.SetConnectionClose()
	require.NoError(t, client.DoTimeout(req, resp, 5*time.Second))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
	<-done
}
