package tictactoe

import (
	"sync"
	"time"

	"github.com/o2games/tictactoe-server/internal/apperror"
)

// gauge is the slice of a metrics gauge the registry needs to track the
// number of live games.
type gauge interface {
	Inc()
	Dec()
}

// Registry owns the live games, keyed by room id. A game is registered at
// creation and removed only by its own conclusion; the registry never evicts
// a running game.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Game

	countdown time.Duration
	notifier  Notifier

	activeGames gauge
}

func NewRegistry(countdown time.Duration, notifier Notifier) *Registry {
	return &Registry{
		games:     make(map[string]*Game),
		countdown: countdown,
		notifier:  notifier,
	}
}

// SetActiveGamesGauge wires an optional gauge tracking live game count.
func (that *Registry) SetActiveGamesGauge(g gauge) {
	that.activeGames = g
}

// CreateGame constructs and registers a game for the room. At most one live
// game may exist per room id.
func (that *Registry) CreateGame(roomID string, playerA, playerB string, onConclude ConcludeFunc) (*Game, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.games[roomID]; ok {
		return nil, apperror.ErrDuplicateGame
	}

	game, err := NewGame(roomID, playerA, playerB, that.countdown, that.notifier, func(g *Game, winnerID string) {
		that.remove(g.ID())

		if onConclude != nil {
			onConclude(g, winnerID)
		}
	})
	if err != nil {
		return nil, err
	}

	that.games[roomID] = game

	if that.activeGames != nil {
		that.activeGames.Inc()
	}

	return game, nil
}

// GetGame returns the live game for the room, if any.
func (that *Registry) GetGame(roomID string) (*Game, bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	game, ok := that.games[roomID]

	return game, ok
}

// Games returns a snapshot of all live games.
func (that *Registry) Games() []*Game {
	that.mu.RLock()
	defer that.mu.RUnlock()

	games := make([]*Game, 0, len(that.games))
	for _, game := range that.games {
		games = append(games, game)
	}

	return games
}

func (that *Registry) remove(roomID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.games[roomID]; !ok {
		return
	}

	delete(that.games, roomID)

	if that.activeGames != nil {
		that.activeGames.Dec()
	}
}
