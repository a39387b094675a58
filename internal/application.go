package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/o2games/tictactoe-server/internal/config"
	"github.com/o2games/tictactoe-server/internal/monitor"
	"github.com/o2games/tictactoe-server/internal/platform"
	"github.com/o2games/tictactoe-server/internal/repository"
	"github.com/o2games/tictactoe-server/internal/repository/storage"
	"github.com/o2games/tictactoe-server/internal/service"
	"github.com/o2games/tictactoe-server/internal/tictactoe"
	"github.com/o2games/tictactoe-server/transport/rest"
	"github.com/o2games/tictactoe-server/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	metrics := monitor.NewMetrics("tictactoe")

	playerRepo := repository.NewPlayerRepository(redisStorage.Connection)

	platformClient := platform.NewClient(logger, conf.Platform)
	go platformClient.RunTokenRefresh(ctx)

	hub := websocket.NewHub(logger, metrics.OnlinePlayers)

	registry := tictactoe.NewRegistry(conf.Game.Countdown(), hub)
	registry.SetActiveGamesGauge(metrics.ActiveGames)

	scores := service.NewScoreReporter(logger, platformClient)
	sessions := service.NewSessionManager(logger, playerRepo, registry, hub, platformClient, scores)

	scheduler := tictactoe.NewScheduler(logger, registry, conf.Game.TickInterval())
	go scheduler.Run(ctx)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, conf.HTTPPort, metrics.Handler()); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, sessions, hub, metrics)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
