package websocket

import (
	"encoding/json"

	"github.com/o2games/tictactoe-server/internal/apperror"
)

// Message is one frame on the wire: an action name plus its payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the reply body for a rejected action.
type ErrorPayload struct {
	Error *apperror.Error `json:"error"`
}

// JoinRoomPayload is the body of a room:join request.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// PlacePiecePayload is the body of a game:place request.
type PlacePiecePayload struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// inbound actions
const (
	actionLogin      = "login"
	actionCreateRoom = "room:create"
	actionJoinRoom   = "room:join"
	actionReady      = "room:ready"
	actionPlacePiece = "game:place"
	actionLeaveRoom  = "room:leave"
)

// outbound pushes
const (
	actionGameStart = "game:start"
	actionGameTurn  = "game:turn"
	actionGameOver  = "game:over"

	actionOpponentJoined = "room:opponent_joined"
	actionOpponentReady  = "room:opponent_ready"
	actionOpponentLeft   = "room:opponent_left"
	actionRoomDismissed  = "room:dismissed"
)
