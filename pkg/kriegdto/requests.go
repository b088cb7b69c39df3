package kriegdto

type JoinSessionRequest struct {
	SessionID string `json:"sessionId" validate:"required,len=4,alphanum"`
	Identity  string `json:"identity,omitempty" validate:"omitempty,oneof=X O x o"`
}

type MakeMoveRequest struct {
	Row *int `json:"row" validate:"required,min=0,max=2"`
	Col *int `json:"col" validate:"required,min=0,max=2"`
}

type CreateBotSessionRequest struct {
	Difficulty string `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	// Identity is the side the human wants to play.
	Identity string `json:"identity,omitempty" validate:"omitempty,oneof=X O x o"`
}
