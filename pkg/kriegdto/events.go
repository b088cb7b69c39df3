package kriegdto

import "encoding/json"

// Inbound event names.
const (
	EventCreateSession    = "create-session"
	EventJoinSession      = "join-session"
	EventLeaveSession     = "leave-session"
	EventMakeMove         = "make-move"
	EventJoinQueue        = "join-queue"
	EventLeaveQueue       = "leave-queue"
	EventCreateBotSession = "create-bot-session"
	EventPing             = "ping"
)

// Outbound event names.
const (
	EventSessionCreated  = "session-created"
	EventSessionJoined   = "session-joined"
	EventSessionFull     = "session-full"
	EventSessionNotFound = "session-not-found"
	EventStateUpdate     = "state-update"
	EventPlayerJoined    = "player-joined"
	EventPlayerLeft      = "player-left"
	EventMoveResult      = "move-result"
	EventSessionOver     = "session-over"
	EventQueueJoined     = "queue-joined"
	EventQueueLeft       = "queue-left"
	EventQueueStatus     = "queue-status"
	EventQueueError      = "queue-error"
	EventMatchFound      = "match-found"
	EventError           = "error"
	EventPong            = "pong"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope. A nil data leaves Data empty.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}
