package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/render"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Sessions is the read/sweep slice of the session store the admin needs.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*game.Session, error)
	ListSessions(ctx context.Context) ([]*game.Session, error)
	SweepExpired(ctx context.Context) (int, error)
}

type Options struct {
	// Ping checks the backing store; nil means always healthy.
	Ping func(ctx context.Context) error
	// QueueLen reports the matchmaking queue size for /healthz.
	QueueLen       func() int
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// Server is the operator-facing HTTP surface. It is never exposed to players:
// session detail and unprojected board snapshots reveal hidden marks.
type Server struct {
	sessions Sessions
	opts     Options
	logger   *zap.Logger
	srv      *fasthttp.Server
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	PlayerCount  int       `json:"playerCount"`
	CurrentTurn  string    `json:"currentTurn"`
	Moves        int       `json:"moves"`
	Winner       string    `json:"winner,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func New(sessions Sessions, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	s := &Server{sessions: sessions, opts: opts, logger: opts.Logger}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "kriegspiel-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks until ln is closed or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// Handler routes admin requests.
func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	path := strings.TrimSuffix(string(rc.Path()), "/")
	method := string(rc.Method())

	switch {
	case path == "/healthz" && method == fasthttp.MethodGet:
		s.health(ctx, rc)
	case path == "/sessions" && method == fasthttp.MethodGet:
		s.list(ctx, rc)
	case path == "/sweep" && method == fasthttp.MethodPost:
		s.sweep(ctx, rc)
	case strings.HasPrefix(path, "/sessions/") && method == fasthttp.MethodGet:
		rest := strings.TrimPrefix(path, "/sessions/")
		if id, ok := strings.CutSuffix(rest, "/board.png"); ok {
			s.boardPNG(ctx, rc, id)
			return
		}
		s.detail(ctx, rc, rest)
	case path == "/healthz" || path == "/sessions" || path == "/sweep" || strings.HasPrefix(path, "/sessions/"):
		writeError(rc, fasthttp.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(rc, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) health(ctx context.Context, rc *fasthttp.RequestCtx) {
	body := map[string]any{"status": "ok", "store": "ok"}
	if s.opts.QueueLen != nil {
		body["queue"] = s.opts.QueueLen()
	}
	status := fasthttp.StatusOK
	if s.opts.Ping != nil {
		if err := s.opts.Ping(ctx); err != nil {
			s.logger.Warn("admin_health_store_failed", zap.Error(err))
			body["status"] = "degraded"
			body["store"] = err.Error()
			status = fasthttp.StatusServiceUnavailable
		}
	}
	writeJSON(rc, status, body)
}

func (s *Server) list(ctx context.Context, rc *fasthttp.RequestCtx) {
	list, err := s.sessions.ListSessions(ctx)
	if err != nil {
		s.storeFailure(rc, "list_sessions", err)
		return
	}
	out := make([]sessionSummary, 0, len(list))
	for _, sess := range list {
		sum := sessionSummary{
			ID:           sess.ID,
			Status:       string(sess.Status),
			PlayerCount:  sess.Occupancy(),
			CurrentTurn:  string(sess.CurrentTurn),
			Moves:        len(sess.Moves),
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
		}
		if sess.Result != nil {
			sum.Winner = string(sess.Result.Winner)
		}
		out = append(out, sum)
	}
	writeJSON(rc, fasthttp.StatusOK, map[string]any{"sessions": out, "count": len(out)})
}

func (s *Server) detail(ctx context.Context, rc *fasthttp.RequestCtx, rawID string) {
	sess, ok := s.lookup(ctx, rc, rawID)
	if !ok {
		return
	}
	writeJSON(rc, fasthttp.StatusOK, sess)
}

// boardPNG renders the full board, or one side's projection when ?viewer=X|O.
func (s *Server) boardPNG(ctx context.Context, rc *fasthttp.RequestCtx, rawID string) {
	sess, ok := s.lookup(ctx, rc, rawID)
	if !ok {
		return
	}

	b := sess.Board
	opts := render.Options{Header: header(sess), Footer: "full board"}
	if raw := string(rc.QueryArgs().Peek("viewer")); raw != "" {
		viewer := board.ParsePlayer(raw)
		if viewer == board.None {
			writeError(rc, fasthttp.StatusBadRequest, "viewer must be X or O")
			return
		}
		if !sess.Status.Terminal() {
			b = board.Project(sess.Board, viewer, sess.Revealed)
			opts.Revealed = sess.Revealed
		}
		opts.Footer = "viewer " + string(viewer)
	}
	if sess.Status.Terminal() && sess.Result != nil {
		opts.Line = sess.Result.Line
	}

	png, err := render.RenderPNG(ctx, b, opts)
	if err != nil {
		s.logger.Error("admin_render_failed", zap.String("session_id", sess.ID), zap.Error(err))
		writeError(rc, fasthttp.StatusInternalServerError, "render failed")
		return
	}
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetContentType("image/png")
	rc.SetBody(png)
}

func (s *Server) sweep(ctx context.Context, rc *fasthttp.RequestCtx) {
	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		s.storeFailure(rc, "sweep", err)
		return
	}
	s.logger.Info("admin_sweep", zap.Int("removed", n))
	writeJSON(rc, fasthttp.StatusOK, map[string]int{"removed": n})
}

func (s *Server) lookup(ctx context.Context, rc *fasthttp.RequestCtx, rawID string) (*game.Session, bool) {
	id, ok := game.NormalizeSessionID(rawID)
	if !ok {
		writeError(rc, fasthttp.StatusBadRequest, "invalid session id")
		return nil, false
	}
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		s.storeFailure(rc, "get_session", err)
		return nil, false
	}
	if sess == nil {
		writeError(rc, fasthttp.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return nil, false
	}
	return sess, true
}

func (s *Server) storeFailure(rc *fasthttp.RequestCtx, op string, err error) {
	s.logger.Error("admin_store_failure", zap.String("op", op), zap.Error(err))
	status := fasthttp.StatusServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		status = fasthttp.StatusGatewayTimeout
	}
	writeError(rc, status, "store unavailable")
}

func header(s *game.Session) string {
	switch {
	case s.Result != nil && s.Result.Draw():
		return s.ID + " - draw"
	case s.Result != nil:
		return s.ID + " - " + string(s.Result.Winner) + " wins"
	case s.Status == game.StatusActive:
		return s.ID + " - " + string(s.CurrentTurn) + " to move"
	default:
		return s.ID + " - " + string(s.Status)
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		rc.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(raw)
}

func writeError(rc *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(rc, status, map[string]string{"error": msg})
}
