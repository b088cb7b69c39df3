package coordinator

import (
	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/bot"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"go.uber.org/zap"
)

// send routes one message: bot handles go to the in-process bot driver,
// everything else to the transport.
func (c *Coordinator) send(conn, event string, data any) {
	if bot.IsHandle(conn) {
		c.bots.deliver(conn, event)
		return
	}
	c.tmu.RLock()
	t := c.transport
	c.tmu.RUnlock()
	if t == nil {
		c.logger.Warn("egress_failed", zap.String("conn", conn), zap.String("event", event), zap.Error(errTransportMissing))
		return
	}
	env, err := kriegdto.NewEnvelope(event, data)
	if err != nil {
		c.logger.Error("egress_encode_failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := t.Send(conn, env); err != nil {
		c.logger.Debug("egress_failed", zap.String("conn", conn), zap.String("event", event), zap.Error(err))
	}
}

func (c *Coordinator) sendError(conn, code string, data map[string]any) {
	c.send(conn, kriegdto.EventError, c.domainError(code, data).Payload())
}

func (c *Coordinator) domainError(code string, data map[string]any) kriegdto.DomainError {
	return kriegdto.DomainError{
		Code:      code,
		Message:   c.catalog.ErrorText(code, data),
		Retryable: code == kriegdto.CodeStoreUnavailable || code == kriegdto.CodeRateLimited,
	}
}

// sever closes a handle that lost its seat to a reconnection.
func (c *Coordinator) sever(conn string) {
	if conn == "" {
		return
	}
	if bot.IsHandle(conn) {
		c.bots.remove(conn)
		return
	}
	c.tmu.RLock()
	t := c.transport
	c.tmu.RUnlock()
	if t == nil {
		return
	}
	if err := t.Disconnect(conn, c.catalog.Text("session.evicted", nil)); err != nil {
		c.logger.Debug("sever_failed", zap.String("conn", conn), zap.Error(err))
	}
	c.logger.Info("conn_evicted", zap.String("conn", conn))
}

// broadcastState pushes each participant except skip its own projection of s.
func (c *Coordinator) broadcastState(s *game.Session, skip string) {
	for _, conn := range s.Participants() {
		if conn == skip {
			continue
		}
		c.send(conn, kriegdto.EventStateUpdate, kriegdto.StateUpdate{View: toView(game.ViewFor(s, conn))})
	}
}

// broadcastPresence tells everyone except skip about a seat change.
func (c *Coordinator) broadcastPresence(s *game.Session, skip, event string, who board.Player) {
	msg := kriegdto.PlayerPresence{Identity: string(who), PlayerCount: s.Occupancy()}
	for _, conn := range s.Participants() {
		if conn == skip {
			continue
		}
		c.send(conn, event, msg)
	}
}

func (c *Coordinator) broadcastOver(s *game.Session) {
	msg := kriegdto.SessionOver{SessionID: s.ID, Board: toGrid(s.Board)}
	if s.Result != nil {
		msg.Result = toResult(s.Result)
	}
	for _, conn := range s.Participants() {
		c.send(conn, kriegdto.EventSessionOver, msg)
	}
}
