package game

import "github.com/park285/kriegspiel-server/internal/board"

// ClientView is one viewer's projection of a session. It is rebuilt for every
// delivery and never stored.
type ClientView struct {
	SessionID    string
	Viewer       board.Player
	Status       Status
	VisibleBoard board.Board
	CurrentTurn  board.Player
	CanMove      bool
	Revealed     []board.Position
	Result       *board.Result
	PlayerCount  int
}

// CanMove is true only for the seated player whose turn it is in an active game.
func CanMove(status Status, turn, viewer board.Player) bool {
	return status == StatusActive && viewer != board.None && turn == viewer
}

// View projects s for viewer. The result is only attached once the game is
// over.
func View(s *Session, viewer board.Player) ClientView {
	v := ClientView{
		SessionID:    s.ID,
		Viewer:       viewer,
		Status:       s.Status,
		VisibleBoard: board.Project(s.Board, viewer, s.Revealed),
		CurrentTurn:  s.CurrentTurn,
		CanMove:      CanMove(s.Status, s.CurrentTurn, viewer),
		Revealed:     s.Revealed.Positions(),
		PlayerCount:  s.Occupancy(),
	}
	if s.Status.Terminal() && s.Result != nil {
		r := *s.Result
		v.Result = &r
	}
	return v
}

// ViewFor projects s for whichever seat conn holds.
func ViewFor(s *Session, conn string) ClientView {
	return View(s, s.IdentityOf(conn))
}
