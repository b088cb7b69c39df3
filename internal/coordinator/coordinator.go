package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/matchmaking"
	"github.com/park285/kriegspiel-server/internal/msgcat"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"go.uber.org/zap"
)

var errTransportMissing = errors.New("transport not attached")

// Transport delivers envelopes to real client connections and can sever one.
type Transport interface {
	Send(conn string, env kriegdto.Envelope) error
	Disconnect(conn string, reason string) error
}

type Options struct {
	Queue       matchmaking.Config
	BotThinking bool
	Catalog     *msgcat.Catalog
	Logger      *zap.Logger
	Now         func() time.Time
	Seed        int64
}

// Coordinator turns inbound events into state machine and queue calls and
// fans the results out to every participant.
type Coordinator struct {
	mgr      *game.Manager
	queue    *matchmaking.Queue
	catalog  *msgcat.Catalog
	logger   *zap.Logger
	validate *validator.Validate
	limits   *limiter
	bots     *botDriver
	now      func() time.Time

	tmu       sync.RWMutex
	transport Transport

	ctxMu   sync.RWMutex
	rootCtx context.Context
}

func New(mgr *game.Manager, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	c := &Coordinator{
		mgr:      mgr,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
		validate: validator.New(),
		limits:   newLimiter(defaultRules(), opts.Now),
		now:      opts.Now,
		rootCtx:  context.Background(),
	}
	c.bots = newBotDriver(c, opts.BotThinking, opts.Seed)
	c.queue = matchmaking.NewQueue(opts.Queue, mgr, queueNotifier{c}, matchmaking.WithLogger(opts.Logger))
	return c
}

// AttachTransport wires the client-facing transport.
func (c *Coordinator) AttachTransport(t Transport) {
	c.tmu.Lock()
	c.transport = t
	c.tmu.Unlock()
}

func (c *Coordinator) Queue() *matchmaking.Queue { return c.queue }

func (c *Coordinator) Manager() *game.Manager { return c.mgr }

// Start launches the queue tickers. Bot moves run under ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctxMu.Lock()
	c.rootCtx = ctx
	c.ctxMu.Unlock()
	c.queue.Start(ctx)
}

// Stop halts the queue tickers and any pending bot moves.
func (c *Coordinator) Stop() {
	c.queue.Stop()
	c.bots.stop()
}

func (c *Coordinator) ctx() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.rootCtx
}

func (c *Coordinator) HandleConnect(_ context.Context, conn string) {
	c.logger.Info("conn_open", zap.String("conn", conn))
}

// HandleDisconnect drops conn from the queue and frees its seat.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn string) {
	defer c.recoverPanic(conn, "disconnect")
	c.queue.Leave(conn)
	c.limits.forget(conn)
	if _, err := c.leaveSession(ctx, conn); err != nil && !errors.Is(err, errNotSeated) {
		c.logger.Warn("disconnect_release_failed", zap.String("conn", conn), zap.Error(err))
	}
	c.logger.Info("conn_close", zap.String("conn", conn))
}

// HandleEvent dispatches one inbound envelope. Every rejected action gets
// exactly one reply; panics are answered with SERVER_ERROR.
func (c *Coordinator) HandleEvent(ctx context.Context, conn string, env kriegdto.Envelope) {
	defer c.recoverPanic(conn, env.Event)

	if _, known := defaultRules()[env.Event]; !known {
		c.sendError(conn, kriegdto.CodeUnknownEvent, map[string]any{"event": env.Event})
		return
	}
	if !c.limits.allow(conn, env.Event) {
		c.logger.Debug("rate_limited", zap.String("conn", conn), zap.String("event", env.Event))
		c.sendError(conn, kriegdto.CodeRateLimited, map[string]any{"event": env.Event})
		return
	}

	switch env.Event {
	case kriegdto.EventCreateSession:
		c.handleCreateSession(ctx, conn)
	case kriegdto.EventJoinSession:
		var req kriegdto.JoinSessionRequest
		if c.decode(conn, env, &req) {
			c.handleJoinSession(ctx, conn, req)
		}
	case kriegdto.EventLeaveSession:
		c.handleLeaveSession(ctx, conn)
	case kriegdto.EventMakeMove:
		var req kriegdto.MakeMoveRequest
		if c.decode(conn, env, &req) {
			c.handleMakeMove(ctx, conn, req)
		}
	case kriegdto.EventJoinQueue:
		c.handleJoinQueue(ctx, conn)
	case kriegdto.EventLeaveQueue:
		c.handleLeaveQueue(conn)
	case kriegdto.EventCreateBotSession:
		var req kriegdto.CreateBotSessionRequest
		if c.decode(conn, env, &req) {
			c.handleCreateBotSession(ctx, conn, req)
		}
	case kriegdto.EventPing:
		c.send(conn, kriegdto.EventPong, kriegdto.Pong{Time: c.now().UnixMilli()})
	}
}

// decode unmarshals and validates the payload, replying with an error on
// failure.
func (c *Coordinator) decode(conn string, env kriegdto.Envelope, dst any) bool {
	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.sendError(conn, kriegdto.CodeValidation, map[string]any{"detail": "malformed payload"})
		return false
	}
	if err := c.validate.Struct(dst); err != nil {
		code, detail := validationCode(err)
		c.sendError(conn, code, map[string]any{"detail": detail})
		return false
	}
	return true
}

func validationCode(err error) (string, string) {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return kriegdto.CodeValidation, err.Error()
	}
	fe := fields[0]
	detail := fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	switch fe.Field() {
	case "SessionID":
		return kriegdto.CodeInvalidSessionID, detail
	case "Row", "Col":
		return kriegdto.CodeInvalidPosition, detail
	default:
		return kriegdto.CodeValidation, detail
	}
}

func (c *Coordinator) recoverPanic(conn, event string) {
	r := recover()
	if r == nil {
		return
	}
	c.logger.Error("handler_panic",
		zap.String("conn", conn),
		zap.String("event", event),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()),
	)
	c.sendError(conn, kriegdto.CodeServerError, nil)
}
