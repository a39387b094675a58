package tictactoe

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler is the single process-wide driver of every live game's countdown.
// One ticker advances all games; elapsed time is measured by wall clock
// between ticks, so clock drift is bounded by the tick cadence.
type Scheduler struct {
	logger   *slog.Logger
	registry *Registry
	interval time.Duration
}

func NewScheduler(logger *slog.Logger, registry *Registry, interval time.Duration) *Scheduler {
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		registry: registry,
		interval: interval,
	}
}

// Run ticks all live games until the context is canceled.
func (that *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(that.interval)
	defer ticker.Stop()

	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Milliseconds()
			last = now

			for _, game := range that.registry.Games() {
				that.tickGame(game, elapsed)
			}
		}
	}
}

// tickGame advances one game's clock. A failure in one game must not abort
// the rest of the cycle.
func (that *Scheduler) tickGame(game *Game, elapsedMS int64) {
	defer func() {
		if r := recover(); r != nil {
			that.logger.Error("tick failed", "gameID", game.ID(), "panic", r)
		}
	}()

	game.Tick(elapsedMS)
}
