package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/o2games/tictactoe-server/internal/apperror"
	"github.com/o2games/tictactoe-server/internal/entity"
	"github.com/o2games/tictactoe-server/internal/pkg"
	"github.com/o2games/tictactoe-server/internal/platform"
	"github.com/o2games/tictactoe-server/internal/repository"
	"github.com/o2games/tictactoe-server/internal/tictactoe"
)

const teardownTimeout = 10 * time.Second

type playerRepo interface {
	CreateOrUpdate(ctx context.Context, player *entity.Player) error

	GetByID(ctx context.Context, id string) (*entity.Player, error)
	GetByOpenID(ctx context.Context, openID string) (*entity.Player, error)
	GetBySessionToken(ctx context.Context, token string) (*entity.Player, error)
	GetByRoom(ctx context.Context, roomID string) ([]*entity.Player, error)

	IncrementScore(ctx context.Context, id string, win bool) (*entity.Player, error)
}

type identityClient interface {
	CodeToSession(ctx context.Context, code string) (*platform.Session, error)
}

// RoomNotifier delivers room-level notices to a connected player, keyed by
// player id. Offline players simply miss the notice; login resume covers
// them.
type RoomNotifier interface {
	OpponentJoined(playerID string, opponent *entity.PlayerInfo)
	OpponentReady(playerID string)
	OpponentLeft(playerID string)
	RoomDismissed(playerID string)
}

type scoreReporter interface {
	Report(player *entity.Player)
}

// SessionManager orchestrates room lifecycle and game creation over the
// player records. Record mutations are serialized per room and per player
// id (rooms locked before players, player locks in sorted order), so no
// two writers ever race on one record.
type SessionManager struct {
	logger   *slog.Logger
	players  playerRepo
	registry *tictactoe.Registry
	rooms    RoomNotifier
	identity identityClient
	scores   scoreReporter

	locks *keyedMutex
}

func NewSessionManager(logger *slog.Logger, players playerRepo, registry *tictactoe.Registry, rooms RoomNotifier, identity identityClient, scores scoreReporter) *SessionManager {
	return &SessionManager{
		logger:   logger.With("component", "session"),
		players:  players,
		registry: registry,
		rooms:    rooms,
		identity: identity,
		scores:   scores,
		locks:    newKeyedMutex(),
	}
}

// Login exchanges the client credentials for a player record and the state
// to resume into. A one-time code goes through the platform and rotates the
// session token; a session token is looked up directly.
func (that *SessionManager) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	var player *entity.Player
	var err error

	switch {
	case req.Code != "":
		player, err = that.loginWithCode(ctx, req)
	case req.SessionToken != "":
		player, err = that.loginWithToken(ctx, req)
	default:
		return nil, apperror.ErrInvalidCredentials
	}

	if err != nil {
		return nil, err
	}

	resume, err := that.resumeData(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("failed to build resume data: %w", err)
	}

	return &LoginResult{
		PlayerID:     player.ID,
		SessionToken: player.SessionToken,
		Resume:       *resume,
	}, nil
}

// CreateRoom puts the player into a fresh room as its owner. Any previous
// room membership is silently overwritten.
func (that *SessionManager) CreateRoom(ctx context.Context, playerID string) (*RoomState, error) {
	unlock := that.locks.Lock(playerKey(playerID))
	defer unlock()

	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	if player.Playing {
		return nil, apperror.ErrNotInRoom
	}

	player.RoomID = pkg.GenerateRoomID()
	player.RoomOwner = true
	player.RoomReady = false

	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player: %w", err)
	}

	return &RoomState{RoomID: player.RoomID, RoomOwner: true}, nil
}

// JoinRoom adds the player to an existing single-occupant room and notifies
// the occupant.
func (that *SessionManager) JoinRoom(ctx context.Context, playerID, roomID string) (*RoomState, error) {
	unlockRoom := that.locks.Lock(roomLockKey(roomID))
	defer unlockRoom()

	occupants, err := that.players.GetByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room occupants: %w", err)
	}

	for _, occupant := range occupants {
		if occupant.ID == playerID {
			return nil, apperror.ErrAlreadyInRoom
		}
	}

	if len(occupants) >= 2 {
		return nil, apperror.ErrRoomFull
	}

	if len(occupants) == 0 {
		return nil, apperror.ErrRoomNotFound
	}

	unlock := that.locks.Lock(playerKey(playerID))
	defer unlock()

	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	if player.Playing {
		return nil, apperror.ErrNotInRoom
	}

	player.RoomID = roomID
	player.RoomOwner = false
	player.RoomReady = false

	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player: %w", err)
	}

	opponent := occupants[0]
	that.rooms.OpponentJoined(opponent.ID, player.Info())

	return &RoomState{RoomID: roomID, Opponent: opponent.Info()}, nil
}

// Ready marks the player ready and, once both occupants are ready, creates
// and starts the room's game.
func (that *SessionManager) Ready(ctx context.Context, playerID string) error {
	roomID, err := that.currentRoomID(ctx, playerID)
	if err != nil {
		return err
	}

	unlockRoom := that.locks.Lock(roomLockKey(roomID))
	defer unlockRoom()

	player, opponent, err := that.roomPair(ctx, roomID, playerID)
	if err != nil {
		return err
	}

	keys := []string{playerKey(player.ID)}
	if opponent != nil {
		keys = append(keys, playerKey(opponent.ID))
	}
	unlock := that.locks.LockAll(keys...)
	defer unlock()

	player.RoomReady = true
	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}

	if opponent == nil {
		return nil
	}

	that.rooms.OpponentReady(opponent.ID)

	if !opponent.RoomReady {
		return nil
	}

	return that.startGame(ctx, roomID, player, opponent)
}

// PlacePiece delegates the move to the room's live game. Turn order, cell
// occupancy and conclusion are all enforced inside the engine.
func (that *SessionManager) PlacePiece(ctx context.Context, playerID string, row, col int) error {
	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}

	if !player.InRoom() {
		return apperror.ErrNotInRoom
	}

	game, ok := that.registry.GetGame(player.RoomID)
	if !ok {
		return apperror.ErrGameNotActive
	}

	return game.PlacePiece(playerID, row, col)
}

// LeaveRoom removes the player from their room. Leaving mid-game is
// rejected: the countdown is the only way out of a running match.
func (that *SessionManager) LeaveRoom(ctx context.Context, playerID string) error {
	roomID, err := that.currentRoomID(ctx, playerID)
	if err != nil {
		return err
	}

	unlockRoom := that.locks.Lock(roomLockKey(roomID))
	defer unlockRoom()

	player, opponent, err := that.roomPair(ctx, roomID, playerID)
	if err != nil {
		return err
	}

	if player.Playing {
		return apperror.ErrNotInRoom
	}

	keys := []string{playerKey(player.ID)}
	if opponent != nil {
		keys = append(keys, playerKey(opponent.ID))
	}
	unlock := that.locks.LockAll(keys...)
	defer unlock()

	if player.RoomOwner {
		player.ClearRoom()
		if err = that.players.CreateOrUpdate(ctx, player); err != nil {
			return fmt.Errorf("failed to update player: %w", err)
		}

		if opponent != nil {
			opponent.ClearRoom()
			if err = that.players.CreateOrUpdate(ctx, opponent); err != nil {
				return fmt.Errorf("failed to update opponent: %w", err)
			}

			that.rooms.RoomDismissed(opponent.ID)
		}

		return nil
	}

	player.ClearRoom()
	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}

	if opponent != nil {
		that.rooms.OpponentLeft(opponent.ID)
	}

	return nil
}

func (that *SessionManager) loginWithCode(ctx context.Context, req *LoginRequest) (*entity.Player, error) {
	session, err := that.identity.CodeToSession(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	player, err := that.players.GetByOpenID(ctx, session.OpenID)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return that.insertPlayer(ctx, session, req.Profile)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get player by open id: %w", err)
	}

	unlock := that.locks.Lock(playerKey(player.ID))
	defer unlock()

	player, err = that.players.GetByID(ctx, player.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	player.SessionKey = session.SessionKey
	player.SessionToken = pkg.GenerateSessionToken()
	player.Profile = req.Profile

	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player: %w", err)
	}

	return player, nil
}

func (that *SessionManager) loginWithToken(ctx context.Context, req *LoginRequest) (*entity.Player, error) {
	player, err := that.players.GetBySessionToken(ctx, req.SessionToken)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, apperror.ErrInvalidCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get player by session token: %w", err)
	}

	if req.Profile == nil {
		return player, nil
	}

	unlock := that.locks.Lock(playerKey(player.ID))
	defer unlock()

	player, err = that.players.GetByID(ctx, player.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	player.Profile = req.Profile

	if err = that.players.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player: %w", err)
	}

	return player, nil
}

func (that *SessionManager) insertPlayer(ctx context.Context, session *platform.Session, profile *entity.Profile) (*entity.Player, error) {
	player := &entity.Player{
		ID:           pkg.GeneratePlayerID(),
		OpenID:       session.OpenID,
		SessionKey:   session.SessionKey,
		SessionToken: pkg.GenerateSessionToken(),
		Profile:      profile,
	}

	if err := that.players.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	return player, nil
}

func (that *SessionManager) resumeData(ctx context.Context, player *entity.Player) (*ResumeData, error) {
	resume := &ResumeData{}

	if !player.InRoom() {
		return resume, nil
	}

	opponent, err := that.opponentOf(ctx, player)
	if err != nil {
		return nil, err
	}

	resume.Room = &RoomState{
		RoomID:    player.RoomID,
		RoomOwner: player.RoomOwner,
	}
	if opponent != nil {
		resume.Room.Opponent = opponent.Info()
	}

	if player.Playing {
		if game, ok := that.registry.GetGame(player.RoomID); ok {
			resume.Game = game.InfoFor(player.ID)
		}
	}

	return resume, nil
}

func (that *SessionManager) currentRoomID(ctx context.Context, playerID string) (string, error) {
	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return "", fmt.Errorf("failed to get player: %w", err)
	}

	if !player.InRoom() {
		return "", apperror.ErrNotInRoom
	}

	return player.RoomID, nil
}

// roomPair re-reads the room occupants under the room lock and splits them
// into the acting player and the opponent. NotInRoom if the player has left
// the room in the meantime.
func (that *SessionManager) roomPair(ctx context.Context, roomID, playerID string) (*entity.Player, *entity.Player, error) {
	occupants, err := that.players.GetByRoom(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get room occupants: %w", err)
	}

	var player, opponent *entity.Player
	for _, occupant := range occupants {
		if occupant.ID == playerID {
			player = occupant
		} else {
			opponent = occupant
		}
	}

	if player == nil {
		return nil, nil, apperror.ErrNotInRoom
	}

	return player, opponent, nil
}

func (that *SessionManager) opponentOf(ctx context.Context, player *entity.Player) (*entity.Player, error) {
	occupants, err := that.players.GetByRoom(ctx, player.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room occupants: %w", err)
	}

	for _, occupant := range occupants {
		if occupant.ID != player.ID {
			return occupant, nil
		}
	}

	return nil, nil
}

// startGame creates the room's game, flips both records into play and
// starts the engine. Caller holds the room lock and both player locks.
func (that *SessionManager) startGame(ctx context.Context, roomID string, player, opponent *entity.Player) error {
	game, err := that.registry.CreateGame(roomID, player.ID, opponent.ID, that.onGameOver)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	for _, record := range []*entity.Player{player, opponent} {
		record.Playing = true
		record.RoomReady = false

		if err = that.players.CreateOrUpdate(ctx, record); err != nil {
			return fmt.Errorf("failed to update player: %w", err)
		}
	}

	return game.Start()
}

// onGameOver runs the post-game teardown off the engine's lock: score
// counters, record cleanup and fire-and-forget reporting.
func (that *SessionManager) onGameOver(game *tictactoe.Game, winnerID string) {
	go that.finishGame(game, winnerID)
}

func (that *SessionManager) finishGame(game *tictactoe.Game, winnerID string) {
	log := that.logger.With("method", "finishGame", "gameID", game.ID())

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	players := game.Players()

	unlockRoom := that.locks.Lock(roomLockKey(game.ID()))
	defer unlockRoom()

	unlock := that.locks.LockAll(playerKey(players[0]), playerKey(players[1]))
	defer unlock()

	for _, playerID := range players {
		player, err := that.players.GetByID(ctx, playerID)
		if err != nil {
			log.Error("failed to get player", "playerID", playerID, "error", err)
			continue
		}

		// draws don't count towards the score
		if winnerID != "" {
			player, err = that.players.IncrementScore(ctx, playerID, playerID == winnerID)
			if err != nil {
				log.Error("failed to update score", "playerID", playerID, "error", err)
				continue
			}
		}

		player.ClearRoom()
		if err = that.players.CreateOrUpdate(ctx, player); err != nil {
			log.Error("failed to update player", "playerID", playerID, "error", err)
			continue
		}

		that.scores.Report(player)
	}

	log.Info("game finished")
}

func playerKey(playerID string) string {
	return "player/" + playerID
}

func roomLockKey(roomID string) string {
	return "room/" + roomID
}
