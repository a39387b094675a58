package service

import (
	"github.com/o2games/tictactoe-server/internal/entity"
	"github.com/o2games/tictactoe-server/internal/tictactoe"
)

// LoginRequest carries the client credentials: either a one-time platform
// code or a previously issued session token.
type LoginRequest struct {
	Code         string          `json:"code,omitempty"`
	SessionToken string          `json:"session,omitempty"`
	Profile      *entity.Profile `json:"playerInfo,omitempty"`
}

// LoginResult is the reply to a login: the session token to keep and
// whatever state the player should resume into.
type LoginResult struct {
	PlayerID     string     `json:"playerId"`
	SessionToken string     `json:"session"`
	Resume       ResumeData `json:"resumeData"`
}

// ResumeData answers "what state are you in right now": the player's room,
// if any, and the in-flight game view if a match is running.
type ResumeData struct {
	Room *RoomState      `json:"room,omitempty"`
	Game *tictactoe.View `json:"game,omitempty"`
}

// RoomState describes a room from one occupant's point of view.
type RoomState struct {
	RoomID    string             `json:"roomId"`
	RoomOwner bool               `json:"roomOwner"`
	Opponent  *entity.PlayerInfo `json:"opponent,omitempty"`
}
