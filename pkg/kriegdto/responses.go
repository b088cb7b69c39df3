package kriegdto

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type Result struct {
	Winner string     `json:"winner,omitempty"`
	Line   []Position `json:"winningLine,omitempty"`
	Draw   bool       `json:"draw"`
}

// View is one player's filtered picture of a session. Board cells are "X",
// "O" or "".
type View struct {
	SessionID   string       `json:"sessionId"`
	Identity    string       `json:"identity,omitempty"`
	Status      string       `json:"status"`
	Board       [3][3]string `json:"visibleBoard"`
	CurrentTurn string       `json:"currentTurn"`
	CanMove     bool         `json:"canMove"`
	Revealed    []Position   `json:"revealedCells"`
	Result      *Result      `json:"result,omitempty"`
	PlayerCount int          `json:"playerCount"`
}

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	Identity  string `json:"identity"`
	View      *View  `json:"state"`
}

type SessionJoined struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"sessionId,omitempty"`
	Identity     string `json:"identity,omitempty"`
	Reconnection bool   `json:"reconnection,omitempty"`
	View         *View  `json:"state,omitempty"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SessionRef struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

type StateUpdate struct {
	View *View `json:"state"`
}

type PlayerPresence struct {
	Identity    string `json:"identity"`
	PlayerCount int    `json:"playerCount"`
}

// MoveResult answers make-move. Outcome is accepted, rejected or failed.
type MoveResult struct {
	Success  bool      `json:"success"`
	Outcome  string    `json:"outcome"`
	Position *Position `json:"position,omitempty"`
	Revealed *Position `json:"revealed,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SessionOver discloses the true board once the game has ended.
type SessionOver struct {
	SessionID string       `json:"sessionId"`
	Result    Result       `json:"result"`
	Board     [3][3]string `json:"board"`
}

type QueueStatus struct {
	Position        int   `json:"position"`
	QueueSize       int   `json:"queueSize"`
	EstimatedWaitMs int64 `json:"estimatedWaitMs"`
}

type QueueLeft struct {
	Removed bool `json:"removed"`
}

type MatchFound struct {
	SessionID string `json:"sessionId"`
	Identity  string `json:"identity"`
	View      *View  `json:"state"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type Pong struct {
	Time int64 `json:"time"`
}
