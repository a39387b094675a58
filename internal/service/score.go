package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/o2games/tictactoe-server/internal/entity"
)

const reportTimeout = 10 * time.Second

type platformReporter interface {
	ReportScore(ctx context.Context, player *entity.Player) error
}

// ScoreReporter pushes score counters to the platform leaderboard,
// fire-and-forget: failures are logged and never reach the game flow.
type ScoreReporter struct {
	logger   *slog.Logger
	platform platformReporter
}

func NewScoreReporter(logger *slog.Logger, platform platformReporter) *ScoreReporter {
	return &ScoreReporter{
		logger:   logger.With("component", "score-reporter"),
		platform: platform,
	}
}

func (that *ScoreReporter) Report(player *entity.Player) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()

		if err := that.platform.ReportScore(ctx, player); err != nil {
			that.logger.Error("failed to report score", "playerID", player.ID, "error", err)
		}
	}()
}
