package apperror

import "errors"

// Error is a player-facing error with a stable wire code. Every rejected
// action is answered with exactly one of these.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (that *Error) Error() string {
	return that.Message
}

var (
	ErrInvalidCredentials = &Error{Code: 0, Message: "code or session invalid"}

	ErrAlreadyInRoom = &Error{Code: 10, Message: "already in room"}
	ErrRoomFull      = &Error{Code: 11, Message: "room is full"}
	ErrRoomNotFound  = &Error{Code: 12, Message: "room not exist"}

	ErrNotInRoom    = &Error{Code: 20, Message: "join room first"}
	ErrNotYourTurn  = &Error{Code: 21, Message: "not your turn"}
	ErrCellOccupied = &Error{Code: 22, Message: "can't place here"}

	ErrGameNotActive        = &Error{Code: 30, Message: "game is not active"}
	ErrAlreadyStarted       = &Error{Code: 31, Message: "game already started"}
	ErrDuplicateGame        = &Error{Code: 32, Message: "game already exists"}
	ErrInvalidConfiguration = &Error{Code: 33, Message: "invalid game configuration"}

	ErrUpstreamFailure = &Error{Code: 50, Message: "upstream failure"}
)

// FromError maps any error onto the taxonomy. Collaborator failures
// (store, platform, network) all surface as ErrUpstreamFailure.
func FromError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrUpstreamFailure
}
