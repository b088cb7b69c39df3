package coordinator

import (
	"context"
	"errors"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/bot"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"go.uber.org/zap"
)

var errNotSeated = errors.New("not seated in a session")

func (c *Coordinator) handleCreateSession(ctx context.Context, conn string) {
	c.queue.Leave(conn)
	if _, err := c.leaveSession(ctx, conn); err != nil && !errors.Is(err, errNotSeated) {
		c.replyStoreError(conn, "create_session", err)
		return
	}

	s, err := c.mgr.CreateSession(ctx)
	if err != nil {
		c.replyStoreError(conn, "create_session", err)
		return
	}
	a, s, err := c.seat(ctx, s.ID, conn, board.X)
	if err != nil {
		c.sendError(conn, codeFor(err), map[string]any{"session": s.ID})
		return
	}
	c.send(conn, kriegdto.EventSessionCreated, kriegdto.SessionCreated{
		SessionID: s.ID,
		Identity:  string(a.Identity),
		View:      toView(game.ViewFor(s, conn)),
	})
}

func (c *Coordinator) handleJoinSession(ctx context.Context, conn string, req kriegdto.JoinSessionRequest) {
	id, ok := game.NormalizeSessionID(req.SessionID)
	if !ok {
		c.sendError(conn, kriegdto.CodeInvalidSessionID, nil)
		return
	}
	requested := board.ParsePlayer(req.Identity)

	if _, err := c.mgr.Session(ctx, id); err != nil {
		c.replyJoinFailure(conn, id, err)
		return
	}
	cur, err := c.mgr.SessionIDFor(ctx, conn)
	if err != nil {
		c.replyStoreError(conn, "join_session", err)
		return
	}
	if cur != "" && cur != id {
		if _, err := c.leaveSession(ctx, conn); err != nil && !errors.Is(err, errNotSeated) {
			c.replyStoreError(conn, "join_session", err)
			return
		}
	}
	c.queue.Leave(conn)

	a, s, err := c.mgr.AssignPlayer(ctx, id, conn, requested)
	if err != nil {
		c.replyJoinFailure(conn, id, err)
		return
	}
	if a.Evicted != "" {
		c.sever(a.Evicted)
	}

	c.send(conn, kriegdto.EventSessionJoined, kriegdto.SessionJoined{
		Success:      true,
		SessionID:    s.ID,
		Identity:     string(a.Identity),
		Reconnection: a.Reconnection,
		View:         toView(game.ViewFor(s, conn)),
	})
	c.broadcastPresence(s, conn, kriegdto.EventPlayerJoined, a.Identity)
	c.broadcastState(s, conn)
}

func (c *Coordinator) replyJoinFailure(conn, id string, err error) {
	msg := c.catalog.ErrorText(codeFor(err), map[string]any{"session": id})
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		c.send(conn, kriegdto.EventSessionNotFound, kriegdto.SessionRef{SessionID: id, Message: msg})
	case errors.Is(err, game.ErrGameFull):
		c.send(conn, kriegdto.EventSessionFull, kriegdto.SessionRef{SessionID: id, Message: msg})
	default:
		c.logger.Warn("join_session_failed", zap.String("conn", conn), zap.String("session_id", id), zap.Error(err))
		code := codeFor(err)
		c.send(conn, kriegdto.EventSessionJoined, kriegdto.SessionJoined{
			Success:   false,
			SessionID: id,
			Code:      code,
			Error:     c.catalog.ErrorText(code, map[string]any{"session": id}),
		})
	}
}

func (c *Coordinator) handleLeaveSession(ctx context.Context, conn string) {
	rel, err := c.leaveSession(ctx, conn)
	if errors.Is(err, errNotSeated) {
		c.sendError(conn, kriegdto.CodeNotInSession, nil)
		return
	}
	if err != nil {
		c.replyStoreError(conn, "leave_session", err)
		return
	}
	c.send(conn, kriegdto.EventPlayerLeft, kriegdto.PlayerPresence{Identity: string(rel.Identity), PlayerCount: rel.Remaining})
}

// leaveSession frees conn's seat and tells whoever is left. When only bots
// remain they are released as well so the session can be collected.
func (c *Coordinator) leaveSession(ctx context.Context, conn string) (game.Release, error) {
	rel, s, err := c.mgr.ReleasePlayer(ctx, conn)
	if err != nil {
		return rel, err
	}
	if bot.IsHandle(conn) {
		c.bots.remove(conn)
	}
	if rel.Identity == board.None {
		return rel, errNotSeated
	}
	if rel.Deleted || s == nil {
		return rel, nil
	}

	c.broadcastPresence(s, conn, kriegdto.EventPlayerLeft, rel.Identity)
	c.broadcastState(s, conn)

	rest := s.Participants()
	onlyBots := len(rest) > 0
	for _, p := range rest {
		if !bot.IsHandle(p) {
			onlyBots = false
		}
	}
	if onlyBots {
		for _, p := range rest {
			if _, err := c.leaveSession(ctx, p); err != nil && !errors.Is(err, errNotSeated) {
				c.logger.Warn("bot_release_failed", zap.String("bot", p), zap.Error(err))
			}
		}
	}
	return rel, nil
}

func (c *Coordinator) handleMakeMove(ctx context.Context, conn string, req kriegdto.MakeMoveRequest) {
	id, err := c.mgr.SessionIDFor(ctx, conn)
	if err != nil {
		c.replyStoreError(conn, "make_move", err)
		return
	}
	if id == "" {
		c.replyMoveFailed(conn, kriegdto.CodeNotAParticipant)
		return
	}
	c.applyMove(ctx, conn, id, board.Position{Row: *req.Row, Col: *req.Col})
}

// applyMove is shared by humans and bots.
func (c *Coordinator) applyMove(ctx context.Context, conn, id string, pos board.Position) {
	out, s, err := c.mgr.AttemptMove(ctx, id, conn, pos)
	if errors.Is(err, game.ErrGameNotFound) {
		c.replyMoveFailed(conn, kriegdto.CodeGameNotFound)
		return
	}
	if err != nil {
		c.replyStoreError(conn, "make_move", err)
		return
	}

	switch o := out.(type) {
	case game.Failed:
		c.replyMoveFailed(conn, codeFor(o.Reason))
	case game.Rejected:
		c.send(conn, kriegdto.EventMoveResult, kriegdto.MoveResult{
			Success:  false,
			Outcome:  kriegdto.OutcomeRejected,
			Revealed: toPosition(o.Revealed),
		})
		c.broadcastState(s, "")
	case game.Accepted:
		c.send(conn, kriegdto.EventMoveResult, kriegdto.MoveResult{
			Success:  true,
			Outcome:  kriegdto.OutcomeAccepted,
			Position: toPosition(o.Position),
		})
		c.broadcastState(s, "")
		if o.Terminal {
			c.broadcastOver(s)
		}
	}
}

func (c *Coordinator) replyMoveFailed(conn, code string) {
	c.send(conn, kriegdto.EventMoveResult, kriegdto.MoveResult{
		Success: false,
		Outcome: kriegdto.OutcomeFailed,
		Code:    code,
		Error:   c.catalog.ErrorText(code, nil),
	})
}

func (c *Coordinator) handleJoinQueue(ctx context.Context, conn string) {
	if _, err := c.queue.Join(ctx, conn); err != nil {
		code := codeFor(err)
		if code == kriegdto.CodeStoreUnavailable {
			c.logger.Warn("join_queue_failed", zap.String("conn", conn), zap.Error(err))
		}
		c.send(conn, kriegdto.EventQueueError, c.domainError(code, nil).Payload())
	}
}

func (c *Coordinator) handleLeaveQueue(conn string) {
	c.send(conn, kriegdto.EventQueueLeft, kriegdto.QueueLeft{Removed: c.queue.Leave(conn)})
}

func (c *Coordinator) handleCreateBotSession(ctx context.Context, conn string, req kriegdto.CreateBotSessionRequest) {
	difficulty, err := bot.ParseDifficulty(req.Difficulty)
	if err != nil {
		c.sendError(conn, kriegdto.CodeValidation, map[string]any{"detail": err.Error()})
		return
	}
	human := board.ParsePlayer(req.Identity)
	if human == board.None {
		human = board.X
	}

	c.queue.Leave(conn)
	if _, err := c.leaveSession(ctx, conn); err != nil && !errors.Is(err, errNotSeated) {
		c.replyStoreError(conn, "create_bot_session", err)
		return
	}

	s, err := c.mgr.CreateSession(ctx)
	if err != nil {
		c.replyStoreError(conn, "create_bot_session", err)
		return
	}
	if _, _, err := c.seat(ctx, s.ID, conn, human); err != nil {
		c.sendError(conn, codeFor(err), map[string]any{"session": s.ID})
		return
	}
	handle := bot.NewHandle()
	c.bots.add(handle, s.ID, difficulty)
	_, s, err = c.seat(ctx, s.ID, handle, human.Opponent())
	if err != nil {
		c.bots.remove(handle)
		c.sendError(conn, codeFor(err), map[string]any{"session": s.ID})
		return
	}

	c.logger.Info("bot_session_create",
		zap.String("session_id", s.ID),
		zap.String("conn", conn),
		zap.String("bot", handle),
		zap.String("difficulty", string(difficulty)),
	)
	c.send(conn, kriegdto.EventSessionCreated, kriegdto.SessionCreated{
		SessionID: s.ID,
		Identity:  string(human),
		View:      toView(game.ViewFor(s, conn)),
	})
	c.bots.schedule(handle)
}

// seat assigns conn to a freshly created session and discards the session
// if that fails. The returned session is never nil.
func (c *Coordinator) seat(ctx context.Context, id, conn string, p board.Player) (game.Assignment, *game.Session, error) {
	a, s, err := c.mgr.AssignPlayer(ctx, id, conn, p)
	if err != nil {
		if derr := c.mgr.DiscardSession(ctx, id); derr != nil {
			c.logger.Warn("discard_failed", zap.String("session_id", id), zap.Error(derr))
		}
		return a, &game.Session{ID: id}, err
	}
	return a, s, nil
}

func (c *Coordinator) replyStoreError(conn, op string, err error) {
	c.logger.Error("store_failure", zap.String("op", op), zap.String("conn", conn), zap.Error(err))
	c.sendError(conn, kriegdto.CodeStoreUnavailable, nil)
}
