package wsgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	ErrUnknownConn = errors.New("unknown connection")
	ErrConnClosed  = errors.New("connection closed")
	ErrBufferFull  = errors.New("send buffer full")
	ErrGateClosed  = errors.New("gateway closed")
)

// Handler receives connection lifecycle and inbound events.
type Handler interface {
	HandleConnect(ctx context.Context, conn string)
	HandleEvent(ctx context.Context, conn string, env kriegdto.Envelope)
	HandleDisconnect(ctx context.Context, conn string)
}

type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	ReadLimit      int64
	Logger         *zap.Logger
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 16 << 10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Gateway serves the websocket event channel. Every connection gets a uuid,
// a single writer goroutine fed by a bounded buffer and a ping loop.
type Gateway struct {
	h      Handler
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*client
	closed bool
	wg     sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type client struct {
	id     string
	ws     *websocket.Conn
	out    chan kriegdto.Envelope
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func New(h Handler, opts Options) *Gateway {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		h:          h,
		opts:       opts,
		logger:     opts.Logger,
		conns:      make(map[string]*client),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Router exposes /ws and /healthz behind CORS.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", g.health)
	r.Get("/ws", g.serveWS)

	origins := g.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": g.Len()})
}

// originPatterns turns configured origins into the host patterns the
// websocket handshake matches against.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  originPatterns(g.opts.AllowedOrigins),
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		g.logger.Debug("ws_accept_failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(g.opts.ReadLimit)

	cl, err := g.register(ws)
	if err != nil {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.wg.Done()

	g.h.HandleConnect(cl.ctx, cl.id)
	go g.writeLoop(cl)
	go g.pingLoop(cl)

	g.readLoop(cl)

	cl.shutdown(websocket.StatusNormalClosure, "")
	g.unregister(cl)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(cl.ctx), 5*time.Second)
	defer cancel()
	g.h.HandleDisconnect(ctx, cl.id)
}

// register adds one wg slot per connection goroutine: reader, writer, pinger.
func (g *Gateway) register(ws *websocket.Conn) (*client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGateClosed
	}
	ctx, cancel := context.WithCancel(g.rootCtx)
	cl := &client{
		id:     uuid.NewString(),
		ws:     ws,
		out:    make(chan kriegdto.Envelope, g.opts.SendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	g.conns[cl.id] = cl
	g.wg.Add(3)
	return cl, nil
}

func (g *Gateway) unregister(cl *client) {
	g.mu.Lock()
	if cur, ok := g.conns[cl.id]; ok && cur == cl {
		delete(g.conns, cl.id)
	}
	g.mu.Unlock()
}

func (g *Gateway) readLoop(cl *client) {
	for {
		_, raw, err := cl.ws.Read(cl.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !cl.isClosed() {
				g.logger.Debug("ws_read_failed", zap.String("conn", cl.id), zap.Error(err))
			}
			return
		}
		var env kriegdto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			g.replyMalformed(cl)
			continue
		}
		g.h.HandleEvent(cl.ctx, cl.id, env)
	}
}

func (g *Gateway) replyMalformed(cl *client) {
	env, err := kriegdto.NewEnvelope(kriegdto.EventError, kriegdto.ErrorPayload{
		Code:    kriegdto.CodeValidation,
		Message: "malformed frame",
	})
	if err != nil {
		return
	}
	_ = g.Send(cl.id, env)
}

func (g *Gateway) writeLoop(cl *client) {
	defer g.wg.Done()
	for {
		select {
		case <-cl.done:
			return
		case env := <-cl.out:
			ctx, cancel := context.WithTimeout(cl.ctx, g.opts.WriteTimeout)
			err := wsjson.Write(ctx, cl.ws, env)
			cancel()
			if err != nil {
				g.logger.Debug("ws_write_failed", zap.String("conn", cl.id), zap.Error(err))
				cl.shutdown(websocket.StatusGoingAway, "write failure")
				return
			}
		}
	}
}

func (g *Gateway) pingLoop(cl *client) {
	defer g.wg.Done()
	t := time.NewTicker(g.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-cl.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(cl.ctx, g.opts.PingTimeout)
			err := cl.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				g.logger.Info("ws_ping_failed", zap.String("conn", cl.id), zap.Error(err))
				cl.shutdown(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// shutdown is idempotent. The close handshake runs in the background so
// callers never block on a slow peer.
func (cl *client) shutdown(code websocket.StatusCode, reason string) {
	cl.once.Do(func() {
		close(cl.done)
		go func() {
			_ = cl.ws.Close(code, reason)
			cl.cancel()
		}()
	})
}

func (cl *client) isClosed() bool {
	select {
	case <-cl.done:
		return true
	default:
		return false
	}
}

func (g *Gateway) lookup(conn string) (*client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cl, ok := g.conns[conn]
	return cl, ok
}

// Send queues env for conn. A connection whose buffer is full is closed
// rather than allowed to stall its senders.
func (g *Gateway) Send(conn string, env kriegdto.Envelope) error {
	cl, ok := g.lookup(conn)
	if !ok {
		return ErrUnknownConn
	}
	if cl.isClosed() {
		return ErrConnClosed
	}
	select {
	case cl.out <- env:
		return nil
	default:
		g.logger.Warn("ws_slow_consumer", zap.String("conn", conn), zap.String("event", env.Event))
		cl.shutdown(websocket.StatusPolicyViolation, "send buffer full")
		return ErrBufferFull
	}
}

// Disconnect closes conn with reason. The connection's own reader then runs
// the usual disconnect path.
func (g *Gateway) Disconnect(conn, reason string) error {
	cl, ok := g.lookup(conn)
	if !ok {
		return ErrUnknownConn
	}
	cl.shutdown(websocket.StatusPolicyViolation, reason)
	return nil
}

func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Close refuses new connections, closes the open ones and waits for their
// goroutines until ctx is done.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	open := make([]*client, 0, len(g.conns))
	for _, cl := range g.conns {
		open = append(open, cl)
	}
	g.mu.Unlock()

	for _, cl := range open {
		cl.shutdown(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		g.rootCancel()
		return ctx.Err()
	case <-done:
		g.rootCancel()
		return nil
	}
}
