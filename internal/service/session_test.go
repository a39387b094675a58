package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2games/tictactoe-server/internal/apperror"
	"github.com/o2games/tictactoe-server/internal/entity"
	"github.com/o2games/tictactoe-server/internal/platform"
	"github.com/o2games/tictactoe-server/internal/repository"
	"github.com/o2games/tictactoe-server/internal/tictactoe"
)

// memoryPlayerRepo is an in-memory stand-in for the redis repository. It
// stores clones so that callers never share record pointers, same as the
// real repository does through JSON round trips.
type memoryPlayerRepo struct {
	mu      sync.Mutex
	players map[string]*entity.Player
}

func newMemoryPlayerRepo() *memoryPlayerRepo {
	return &memoryPlayerRepo{players: make(map[string]*entity.Player)}
}

func clonePlayer(player *entity.Player) *entity.Player {
	clone := *player
	if player.Profile != nil {
		profile := *player.Profile
		clone.Profile = &profile
	}

	return &clone
}

func (that *memoryPlayerRepo) CreateOrUpdate(_ context.Context, player *entity.Player) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.players[player.ID] = clonePlayer(player)

	return nil
}

func (that *memoryPlayerRepo) GetByID(_ context.Context, id string) (*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	player, ok := that.players[id]
	if !ok {
		return nil, repository.ErrPlayerNotFound
	}

	return clonePlayer(player), nil
}

func (that *memoryPlayerRepo) GetByOpenID(_ context.Context, openID string) (*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, player := range that.players {
		if player.OpenID == openID {
			return clonePlayer(player), nil
		}
	}

	return nil, repository.ErrPlayerNotFound
}

func (that *memoryPlayerRepo) GetBySessionToken(_ context.Context, token string) (*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, player := range that.players {
		if player.SessionToken == token {
			return clonePlayer(player), nil
		}
	}

	return nil, repository.ErrPlayerNotFound
}

func (that *memoryPlayerRepo) GetByRoom(_ context.Context, roomID string) ([]*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var occupants []*entity.Player
	for _, player := range that.players {
		if player.RoomID == roomID {
			occupants = append(occupants, clonePlayer(player))
		}
	}

	return occupants, nil
}

func (that *memoryPlayerRepo) IncrementScore(_ context.Context, id string, win bool) (*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	player, ok := that.players[id]
	if !ok {
		return nil, repository.ErrPlayerNotFound
	}

	player.ScoreTotal++
	if win {
		player.ScoreWin++
	}

	return clonePlayer(player), nil
}

// recordingRooms records every room notice per player id.
type recordingRooms struct {
	mu        sync.Mutex
	joined    map[string][]*entity.PlayerInfo
	ready     map[string]int
	left      map[string]int
	dismissed map[string]int
}

func newRecordingRooms() *recordingRooms {
	return &recordingRooms{
		joined:    make(map[string][]*entity.PlayerInfo),
		ready:     make(map[string]int),
		left:      make(map[string]int),
		dismissed: make(map[string]int),
	}
}

func (that *recordingRooms) OpponentJoined(playerID string, opponent *entity.PlayerInfo) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.joined[playerID] = append(that.joined[playerID], opponent)
}

func (that *recordingRooms) OpponentReady(playerID string) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.ready[playerID]++
}

func (that *recordingRooms) OpponentLeft(playerID string) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.left[playerID]++
}

func (that *recordingRooms) RoomDismissed(playerID string) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.dismissed[playerID]++
}

// nopGameNotifier satisfies the engine's notifier where game pushes are not
// under test.
type nopGameNotifier struct{}

func (nopGameNotifier) GameStart(string, *tictactoe.View) {}
func (nopGameNotifier) NextTurn(string, *tictactoe.View)  {}
func (nopGameNotifier) GameOver(string, *tictactoe.View)  {}

type identityMock struct {
	session *platform.Session
	err     error
}

func (that *identityMock) CodeToSession(_ context.Context, _ string) (*platform.Session, error) {
	return that.session, that.err
}

type recordingScores struct {
	mu       sync.Mutex
	reported []*entity.Player
}

func (that *recordingScores) Report(player *entity.Player) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.reported = append(that.reported, clonePlayer(player))
}

func (that *recordingScores) reportedIDs() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	ids := make([]string, 0, len(that.reported))
	for _, player := range that.reported {
		ids = append(ids, player.ID)
	}

	return ids
}

type sessionFixture struct {
	manager  *SessionManager
	players  *memoryPlayerRepo
	registry *tictactoe.Registry
	rooms    *recordingRooms
	identity *identityMock
	scores   *recordingScores
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	players := newMemoryPlayerRepo()
	registry := tictactoe.NewRegistry(60*time.Second, nopGameNotifier{})
	rooms := newRecordingRooms()
	identity := &identityMock{session: &platform.Session{OpenID: "open-1", SessionKey: "key-1"}}
	scores := &recordingScores{}

	return &sessionFixture{
		manager:  NewSessionManager(logger, players, registry, rooms, identity, scores),
		players:  players,
		registry: registry,
		rooms:    rooms,
		identity: identity,
		scores:   scores,
	}
}

func (that *sessionFixture) seedPlayer(t *testing.T, player *entity.Player) {
	t.Helper()
	require.NoError(t, that.players.CreateOrUpdate(context.Background(), player))
}

func TestSessionManager_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("Code login creates a new player", func(t *testing.T) {
		// Given: a fresh fixture and a profile-bearing login
		fx := newSessionFixture(t)
		profile := &entity.Profile{NickName: "alice"}

		// When: logging in with a one-time code
		result, err := fx.manager.Login(ctx, &LoginRequest{Code: "code-1", Profile: profile})

		// Then: a player record exists with a session token and the profile
		require.NoError(t, err)
		require.NotEmpty(t, result.PlayerID)
		require.NotEmpty(t, result.SessionToken)
		assert.Nil(t, result.Resume.Room)
		assert.Nil(t, result.Resume.Game)

		stored, err := fx.players.GetByID(ctx, result.PlayerID)
		require.NoError(t, err)
		assert.Equal(t, "open-1", stored.OpenID)
		assert.Equal(t, "key-1", stored.SessionKey)
		assert.Equal(t, "alice", stored.Profile.NickName)
	})

	t.Run("Code login on a known open id rotates the session token", func(t *testing.T) {
		// Given: an already registered player
		fx := newSessionFixture(t)
		first, err := fx.manager.Login(ctx, &LoginRequest{Code: "code-1"})
		require.NoError(t, err)

		// When: the same identity logs in again with a new code
		second, err := fx.manager.Login(ctx, &LoginRequest{Code: "code-2"})

		// Then: the player id is stable but the token changed
		require.NoError(t, err)
		assert.Equal(t, first.PlayerID, second.PlayerID)
		assert.NotEqual(t, first.SessionToken, second.SessionToken)

		// and the old token no longer resolves
		_, err = fx.manager.Login(ctx, &LoginRequest{SessionToken: first.SessionToken})
		assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	})

	t.Run("Token login resolves the existing player", func(t *testing.T) {
		fx := newSessionFixture(t)
		first, err := fx.manager.Login(ctx, &LoginRequest{Code: "code-1"})
		require.NoError(t, err)

		result, err := fx.manager.Login(ctx, &LoginRequest{SessionToken: first.SessionToken})

		require.NoError(t, err)
		assert.Equal(t, first.PlayerID, result.PlayerID)
		assert.Equal(t, first.SessionToken, result.SessionToken)
	})

	t.Run("Unknown token is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)

		_, err := fx.manager.Login(ctx, &LoginRequest{SessionToken: "bogus"})

		assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	})

	t.Run("Empty credentials are rejected", func(t *testing.T) {
		fx := newSessionFixture(t)

		_, err := fx.manager.Login(ctx, &LoginRequest{})

		assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	})

	t.Run("Login resumes room and game state", func(t *testing.T) {
		// Given: two players mid-game
		fx := newSessionFixture(t)
		owner, _ := setupRunningGame(t, fx)

		// When: the owner logs back in by token
		stored, err := fx.players.GetByID(ctx, owner)
		require.NoError(t, err)

		result, err := fx.manager.Login(ctx, &LoginRequest{SessionToken: stored.SessionToken})

		// Then: the resume data carries the room and the live game view
		require.NoError(t, err)
		require.NotNil(t, result.Resume.Room)
		assert.True(t, result.Resume.Room.RoomOwner)
		require.NotNil(t, result.Resume.Room.Opponent)
		require.NotNil(t, result.Resume.Game)
	})
}

func TestSessionManager_CreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates a room owned by the player", func(t *testing.T) {
		// Given: a registered player
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1"})

		// When: creating a room
		state, err := fx.manager.CreateRoom(ctx, "p1")

		// Then: the player owns a fresh room
		require.NoError(t, err)
		require.NotEmpty(t, state.RoomID)
		assert.True(t, state.RoomOwner)

		stored, err := fx.players.GetByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, state.RoomID, stored.RoomID)
		assert.True(t, stored.RoomOwner)
	})

	t.Run("Rejected while a game is running", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", Playing: true})

		_, err := fx.manager.CreateRoom(ctx, "p1")

		assert.ErrorIs(t, err, apperror.ErrNotInRoom)
	})
}

func TestSessionManager_JoinRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Joins an open room and notifies the owner", func(t *testing.T) {
		// Given: an owner waiting in a room
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true, Profile: &entity.Profile{NickName: "alice"}})
		fx.seedPlayer(t, &entity.Player{ID: "p2", Profile: &entity.Profile{NickName: "bob"}})

		// When: the second player joins
		state, err := fx.manager.JoinRoom(ctx, "p2", "room-1")

		// Then: the joiner sees the owner, and the owner is notified
		require.NoError(t, err)
		assert.Equal(t, "room-1", state.RoomID)
		assert.False(t, state.RoomOwner)
		require.NotNil(t, state.Opponent)
		assert.Equal(t, "alice", state.Opponent.NickName)

		require.Len(t, fx.rooms.joined["p1"], 1)
		assert.Equal(t, "bob", fx.rooms.joined["p1"][0].NickName)
	})

	t.Run("Joining the own room again is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})

		_, err := fx.manager.JoinRoom(ctx, "p1", "room-1")

		assert.ErrorIs(t, err, apperror.ErrAlreadyInRoom)
	})

	t.Run("A full room is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})
		fx.seedPlayer(t, &entity.Player{ID: "p2", RoomID: "room-1"})
		fx.seedPlayer(t, &entity.Player{ID: "p3"})

		_, err := fx.manager.JoinRoom(ctx, "p3", "room-1")

		assert.ErrorIs(t, err, apperror.ErrRoomFull)
	})

	t.Run("An empty room does not exist", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1"})

		_, err := fx.manager.JoinRoom(ctx, "p1", "no-such-room")

		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})
}

func TestSessionManager_Ready(t *testing.T) {
	ctx := context.Background()

	t.Run("First ready only notifies the opponent", func(t *testing.T) {
		// Given: a full room with nobody ready
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})
		fx.seedPlayer(t, &entity.Player{ID: "p2", RoomID: "room-1"})

		// When: the owner readies up
		require.NoError(t, fx.manager.Ready(ctx, "p1"))

		// Then: the guest is notified and no game exists yet
		assert.Equal(t, 1, fx.rooms.ready["p2"])

		_, ok := fx.registry.GetGame("room-1")
		assert.False(t, ok)

		stored, err := fx.players.GetByID(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, stored.RoomReady)
		assert.False(t, stored.Playing)
	})

	t.Run("Second ready starts the game", func(t *testing.T) {
		// Given: a full room with the owner already ready
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true, RoomReady: true})
		fx.seedPlayer(t, &entity.Player{ID: "p2", RoomID: "room-1"})

		// When: the guest readies up
		require.NoError(t, fx.manager.Ready(ctx, "p2"))

		// Then: a game runs and both records are playing and no longer ready
		game, ok := fx.registry.GetGame("room-1")
		require.True(t, ok)
		assert.True(t, game.IsPlaying())

		for _, id := range []string{"p1", "p2"} {
			stored, err := fx.players.GetByID(ctx, id)
			require.NoError(t, err)
			assert.True(t, stored.Playing)
			assert.False(t, stored.RoomReady)
		}
	})

	t.Run("Ready without a room is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1"})

		err := fx.manager.Ready(ctx, "p1")

		assert.ErrorIs(t, err, apperror.ErrNotInRoom)
	})
}

func TestSessionManager_PlacePiece(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejected without a room", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1"})

		err := fx.manager.PlacePiece(ctx, "p1", 0, 0)

		assert.ErrorIs(t, err, apperror.ErrNotInRoom)
	})

	t.Run("Rejected while no game runs in the room", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})

		err := fx.manager.PlacePiece(ctx, "p1", 0, 0)

		assert.ErrorIs(t, err, apperror.ErrGameNotActive)
	})

	t.Run("Engine turn order applies", func(t *testing.T) {
		// Given: a running game
		fx := newSessionFixture(t)
		setupRunningGame(t, fx)

		game, ok := fx.registry.GetGame("room-1")
		require.True(t, ok)

		mover := game.CurrentPlayerID()
		waiter := otherOf(mover, "p1", "p2")

		// When: the waiting player tries to move
		err := fx.manager.PlacePiece(ctx, waiter, 0, 0)

		// Then: the engine rejects it
		assert.ErrorIs(t, err, apperror.ErrNotYourTurn)

		// and the mover's move lands
		assert.NoError(t, fx.manager.PlacePiece(ctx, mover, 0, 0))
	})
}

func TestSessionManager_GameConclusion(t *testing.T) {
	ctx := context.Background()

	t.Run("A win updates scores, clears the room and reports", func(t *testing.T) {
		// Given: a running game
		fx := newSessionFixture(t)
		setupRunningGame(t, fx)

		game, ok := fx.registry.GetGame("room-1")
		require.True(t, ok)

		winner := game.CurrentPlayerID()
		loser := otherOf(winner, "p1", "p2")

		// When: the first mover takes row 0
		require.NoError(t, fx.manager.PlacePiece(ctx, winner, 0, 0))
		require.NoError(t, fx.manager.PlacePiece(ctx, loser, 1, 1))
		require.NoError(t, fx.manager.PlacePiece(ctx, winner, 0, 1))
		require.NoError(t, fx.manager.PlacePiece(ctx, loser, 2, 2))
		require.NoError(t, fx.manager.PlacePiece(ctx, winner, 0, 2))

		// Then: teardown eventually clears both records and counts the scores
		require.Eventually(t, func() bool {
			won, err := fx.players.GetByID(ctx, winner)
			if err != nil {
				return false
			}
			lost, err := fx.players.GetByID(ctx, loser)
			if err != nil {
				return false
			}

			return !won.InRoom() && !lost.InRoom()
		}, 2*time.Second, 10*time.Millisecond)

		won, err := fx.players.GetByID(ctx, winner)
		require.NoError(t, err)
		assert.Equal(t, 1, won.ScoreTotal)
		assert.Equal(t, 1, won.ScoreWin)
		assert.False(t, won.Playing)

		lost, err := fx.players.GetByID(ctx, loser)
		require.NoError(t, err)
		assert.Equal(t, 1, lost.ScoreTotal)
		assert.Equal(t, 0, lost.ScoreWin)

		assert.ElementsMatch(t, []string{winner, loser}, fx.scores.reportedIDs())

		// and the game is gone from the registry
		_, ok = fx.registry.GetGame("room-1")
		assert.False(t, ok)
	})

	t.Run("A draw clears the room without counting scores", func(t *testing.T) {
		// Given: a running game
		fx := newSessionFixture(t)
		setupRunningGame(t, fx)

		game, ok := fx.registry.GetGame("room-1")
		require.True(t, ok)

		// When: the board fills without a winning triple
		cells := [][2]int{
			{0, 0}, {0, 1}, {0, 2},
			{1, 1}, {1, 0}, {1, 2},
			{2, 1}, {2, 0}, {2, 2},
		}
		for _, cell := range cells {
			mover := game.CurrentPlayerID()
			require.NoError(t, fx.manager.PlacePiece(ctx, mover, cell[0], cell[1]))
		}

		// Then: both records are eventually back in the lobby with zero score
		require.Eventually(t, func() bool {
			for _, id := range []string{"p1", "p2"} {
				stored, err := fx.players.GetByID(ctx, id)
				if err != nil || stored.InRoom() {
					return false
				}
			}
			return true
		}, 2*time.Second, 10*time.Millisecond)

		for _, id := range []string{"p1", "p2"} {
			stored, err := fx.players.GetByID(ctx, id)
			require.NoError(t, err)
			assert.Zero(t, stored.ScoreTotal)
			assert.Zero(t, stored.ScoreWin)
		}
	})
}

func TestSessionManager_LeaveRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Owner leaving dismisses the room", func(t *testing.T) {
		// Given: a full room
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})
		fx.seedPlayer(t, &entity.Player{ID: "p2", RoomID: "room-1"})

		// When: the owner leaves
		require.NoError(t, fx.manager.LeaveRoom(ctx, "p1"))

		// Then: both records are cleared and the guest gets a dismissal
		for _, id := range []string{"p1", "p2"} {
			stored, err := fx.players.GetByID(ctx, id)
			require.NoError(t, err)
			assert.False(t, stored.InRoom())
		}

		assert.Equal(t, 1, fx.rooms.dismissed["p2"])
	})

	t.Run("Guest leaving keeps the room open", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1", RoomID: "room-1", RoomOwner: true})
		fx.seedPlayer(t, &entity.Player{ID: "p2", RoomID: "room-1"})

		require.NoError(t, fx.manager.LeaveRoom(ctx, "p2"))

		owner, err := fx.players.GetByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "room-1", owner.RoomID)

		guest, err := fx.players.GetByID(ctx, "p2")
		require.NoError(t, err)
		assert.False(t, guest.InRoom())

		assert.Equal(t, 1, fx.rooms.left["p1"])
	})

	t.Run("Leaving mid-game is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)
		setupRunningGame(t, fx)

		err := fx.manager.LeaveRoom(ctx, "p1")

		assert.ErrorIs(t, err, apperror.ErrNotInRoom)
	})

	t.Run("Leaving without a room is rejected", func(t *testing.T) {
		fx := newSessionFixture(t)
		fx.seedPlayer(t, &entity.Player{ID: "p1"})

		err := fx.manager.LeaveRoom(ctx, "p1")

		assert.ErrorIs(t, err, apperror.ErrNotInRoom)
	})
}

// setupRunningGame seeds players p1 (owner) and p2 into room-1 and brings
// the room to a started game.
func setupRunningGame(t *testing.T, fx *sessionFixture) (string, string) {
	t.Helper()

	ctx := context.Background()

	fx.seedPlayer(t, &entity.Player{ID: "p1", SessionToken: "token-p1", RoomID: "room-1", RoomOwner: true, Profile: &entity.Profile{NickName: "alice"}})
	fx.seedPlayer(t, &entity.Player{ID: "p2", SessionToken: "token-p2", RoomID: "room-1", Profile: &entity.Profile{NickName: "bob"}})

	require.NoError(t, fx.manager.Ready(ctx, "p1"))
	require.NoError(t, fx.manager.Ready(ctx, "p2"))

	game, ok := fx.registry.GetGame("room-1")
	require.True(t, ok)
	require.True(t, game.IsPlaying())

	return "p1", "p2"
}

func otherOf(id, a, b string) string {
	if id == a {
		return b
	}

	return a
}
