package kriegdto

// Error codes carried by the error, queue-error and move-result events.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidSessionID = "INVALID_SESSION_ID"
	CodeInvalidPosition  = "INVALID_POSITION"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotYourTurn      = "NOT_YOUR_TURN"
	CodeNotActive        = "NOT_ACTIVE"
	CodeNotAParticipant  = "NOT_A_PARTICIPANT" // move from a connection with no seat
	CodeNotInSession     = "NOT_IN_SESSION"    // leave-session with nothing to leave
	CodeGameFull         = "GAME_FULL"
	CodeGameNotFound     = "GAME_NOT_FOUND"
	CodeAlreadyInGame    = "ALREADY_IN_GAME"
	CodeQueueTimeout     = "QUEUE_TIMEOUT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeServerError      = "SERVER_ERROR"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "kriegspiel server error"
}

// Payload converts e to the wire form of the error event.
func (e DomainError) Payload() ErrorPayload {
	return ErrorPayload{Code: e.Code, Message: e.Error(), Retryable: e.Retryable}
}
