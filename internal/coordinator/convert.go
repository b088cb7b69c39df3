package coordinator

import (
	"errors"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/matchmaking"
	"github.com/park285/kriegspiel-server/pkg/kriegdto"
)

func toView(v game.ClientView) *kriegdto.View {
	out := &kriegdto.View{
		SessionID:   v.SessionID,
		Identity:    string(v.Viewer),
		Status:      string(v.Status),
		Board:       toGrid(v.VisibleBoard),
		CurrentTurn: string(v.CurrentTurn),
		CanMove:     v.CanMove,
		Revealed:    toPositions(v.Revealed),
		PlayerCount: v.PlayerCount,
	}
	if v.Result != nil {
		r := toResult(v.Result)
		out.Result = &r
	}
	return out
}

func toGrid(b board.Board) [3][3]string {
	var g [3][3]string
	for i, c := range b {
		p := board.PositionAt(i)
		g[p.Row][p.Col] = string(c)
	}
	return g
}

func toPosition(p board.Position) *kriegdto.Position {
	return &kriegdto.Position{Row: p.Row, Col: p.Col}
}

func toPositions(ps []board.Position) []kriegdto.Position {
	out := make([]kriegdto.Position, len(ps))
	for i, p := range ps {
		out[i] = kriegdto.Position{Row: p.Row, Col: p.Col}
	}
	return out
}

func toResult(r *board.Result) kriegdto.Result {
	return kriegdto.Result{Winner: string(r.Winner), Line: toPositions(r.Line), Draw: r.Draw()}
}

func toQueueStatus(st matchmaking.Status) kriegdto.QueueStatus {
	return kriegdto.QueueStatus{
		Position:        st.Position,
		QueueSize:       st.QueueSize,
		EstimatedWaitMs: st.EstimatedWait.Milliseconds(),
	}
}

// codeFor maps state machine and queue errors to wire codes. Anything it
// does not recognise is a store failure.
func codeFor(err error) string {
	switch {
	case errors.Is(err, game.ErrNotYourTurn):
		return kriegdto.CodeNotYourTurn
	case errors.Is(err, game.ErrNotActive):
		return kriegdto.CodeNotActive
	case errors.Is(err, game.ErrNotAParticipant):
		return kriegdto.CodeNotAParticipant
	case errors.Is(err, game.ErrInvalidPosition):
		return kriegdto.CodeInvalidPosition
	case errors.Is(err, game.ErrInvalidIdentity):
		return kriegdto.CodeValidation
	case errors.Is(err, game.ErrGameFull):
		return kriegdto.CodeGameFull
	case errors.Is(err, game.ErrGameNotFound):
		return kriegdto.CodeGameNotFound
	case errors.Is(err, matchmaking.ErrAlreadyInGame):
		return kriegdto.CodeAlreadyInGame
	case errors.Is(err, errNotSeated):
		return kriegdto.CodeNotInSession
	default:
		return kriegdto.CodeStoreUnavailable
	}
}
