package entity

// Player is the durable player record. Room membership, readiness and the
// playing flag live here; the live game itself is held only by the registry.
type Player struct {
	ID           string `json:"id"`
	OpenID       string `json:"open_id,omitempty"`
	SessionKey   string `json:"session_key,omitempty"`
	SessionToken string `json:"session_token,omitempty"`

	Profile *Profile `json:"profile,omitempty"`

	RoomID    string `json:"room_id,omitempty"`
	RoomOwner bool   `json:"room_owner,omitempty"`
	RoomReady bool   `json:"room_ready,omitempty"`
	Playing   bool   `json:"playing,omitempty"`

	ScoreTotal int `json:"score_total"`
	ScoreWin   int `json:"score_win"`
}

// Profile is the public profile supplied by the client at login.
type Profile struct {
	NickName  string `json:"nickName"`
	AvatarURL string `json:"avatarUrl"`
	Gender    int    `json:"gender"`
}

// PlayerInfo is the opponent-visible slice of a player record.
type PlayerInfo struct {
	NickName  string `json:"nickName"`
	AvatarURL string `json:"avatarUrl"`
	Gender    int    `json:"gender"`
	Ready     bool   `json:"ready"`
}

func (that *Player) InRoom() bool {
	return that.RoomID != ""
}

// Info returns the opponent-visible view of the record.
func (that *Player) Info() *PlayerInfo {
	info := &PlayerInfo{
		Ready: that.RoomReady,
	}

	if that.Profile != nil {
		info.NickName = that.Profile.NickName
		info.AvatarURL = that.Profile.AvatarURL
		info.Gender = that.Profile.Gender
	}

	return info
}

// ClearRoom resets all room-scoped fields, returning the record to the lobby.
func (that *Player) ClearRoom() {
	that.RoomID = ""
	that.RoomOwner = false
	that.RoomReady = false
	that.Playing = false
}
