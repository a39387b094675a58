package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/o2games/tictactoe-server/internal/entity"
)

var ErrPlayerNotFound = errors.New("player not found")

type PlayerRepository interface {
	CreateOrUpdate(ctx context.Context, player *entity.Player) error

	GetByID(ctx context.Context, id string) (*entity.Player, error)
	GetByOpenID(ctx context.Context, openID string) (*entity.Player, error)
	GetBySessionToken(ctx context.Context, token string) (*entity.Player, error)
	GetByRoom(ctx context.Context, roomID string) ([]*entity.Player, error)

	IncrementScore(ctx context.Context, id string, win bool) (*entity.Player, error)
}

type dbPlayer struct {
	client *redis.Client
}

func NewPlayerRepository(client *redis.Client) PlayerRepository {
	return &dbPlayer{
		client: client,
	}
}

// CreateOrUpdate stores the record and keeps the room-membership,
// session-token and open-id indexes in sync with the previous state.
func (that *dbPlayer) CreateOrUpdate(ctx context.Context, player *entity.Player) error {
	previous, err := that.GetByID(ctx, player.ID)
	if err != nil && !errors.Is(err, ErrPlayerNotFound) {
		return fmt.Errorf("failed to get previous player state: %w", err)
	}

	playerJSON, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	pipe := that.client.TxPipeline()
	pipe.Set(ctx, playerKey(player.ID), playerJSON, 0)

	if previous != nil && previous.RoomID != "" && previous.RoomID != player.RoomID {
		pipe.SRem(ctx, roomKey(previous.RoomID), player.ID)
	}

	if player.RoomID != "" {
		pipe.SAdd(ctx, roomKey(player.RoomID), player.ID)
	}

	if previous != nil && previous.SessionToken != "" && previous.SessionToken != player.SessionToken {
		pipe.Del(ctx, sessionKey(previous.SessionToken))
	}

	if player.SessionToken != "" {
		pipe.Set(ctx, sessionKey(player.SessionToken), player.ID, 0)
	}

	if player.OpenID != "" {
		pipe.Set(ctx, openIDKey(player.OpenID), player.ID, 0)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set player: %w", err)
	}

	return nil
}

func (that *dbPlayer) GetByID(ctx context.Context, id string) (*entity.Player, error) {
	response, err := that.client.Get(ctx, playerKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, ErrPlayerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get player by ID: %w", err)
	}

	var existingPlayer entity.Player
	if err = json.Unmarshal([]byte(response), &existingPlayer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player: %w", err)
	}

	return &existingPlayer, nil
}

func (that *dbPlayer) GetByOpenID(ctx context.Context, openID string) (*entity.Player, error) {
	return that.getByIndex(ctx, openIDKey(openID))
}

func (that *dbPlayer) GetBySessionToken(ctx context.Context, token string) (*entity.Player, error) {
	return that.getByIndex(ctx, sessionKey(token))
}

// GetByRoom returns the records of every occupant of the room; an empty
// slice means the room does not exist.
func (that *dbPlayer) GetByRoom(ctx context.Context, roomID string) ([]*entity.Player, error) {
	ids, err := that.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}

	players := make([]*entity.Player, 0, len(ids))

	for _, id := range ids {
		player, err := that.GetByID(ctx, id)
		if errors.Is(err, ErrPlayerNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get room member: %w", err)
		}

		players = append(players, player)
	}

	return players, nil
}

// IncrementScore bumps the game counters and returns the updated record.
// Callers serialize writes per player id, so read-modify-write is safe here.
func (that *dbPlayer) IncrementScore(ctx context.Context, id string, win bool) (*entity.Player, error) {
	player, err := that.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get player by ID: %w", err)
	}

	player.ScoreTotal++
	if win {
		player.ScoreWin++
	}

	if err = that.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player score: %w", err)
	}

	return player, nil
}

func (that *dbPlayer) getByIndex(ctx context.Context, key string) (*entity.Player, error) {
	id, err := that.client.Get(ctx, key).Result()

	if errors.Is(err, redis.Nil) {
		return nil, ErrPlayerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve player index: %w", err)
	}

	return that.GetByID(ctx, id)
}

func playerKey(id string) string {
	return "player:" + id
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func sessionKey(token string) string {
	return "session:" + token
}

func openIDKey(openID string) string {
	return "openid:" + openID
}
