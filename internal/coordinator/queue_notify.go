package coordinator

import (
	"time"

	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/matchmaking"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
)

// queueNotifier adapts queue callbacks to outbound events.
type queueNotifier struct{ c *Coordinator }

var _ matchmaking.Notifier = queueNotifier{}

func (n queueNotifier) QueueJoined(conn string, st matchmaking.Status) {
	n.c.send(conn, kriegdto.EventQueueJoined, toQueueStatus(st))
}

func (n queueNotifier) QueueStatus(conn string, st matchmaking.Status) {
	n.c.send(conn, kriegdto.EventQueueStatus, toQueueStatus(st))
}

func (n queueNotifier) QueueTimeout(conn string, waited time.Duration) {
	e := n.c.domainError(kriegdto.CodeQueueTimeout, map[string]any{"waited": waited.Round(time.Second).String()})
	n.c.send(conn, kriegdto.EventQueueError, e.Payload())
}

func (n queueNotifier) MatchFound(m matchmaking.Match) {
	n.c.send(m.Conn, kriegdto.EventMatchFound, kriegdto.MatchFound{
		SessionID: m.SessionID,
		Identity:  string(m.Identity),
		View:      toView(game.View(m.Session, m.Identity)),
	})
}
