package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/o2games/tictactoe-server/internal/apperror"
	"github.com/o2games/tictactoe-server/internal/monitor"
	"github.com/o2games/tictactoe-server/internal/service"
)

type sessionManager interface {
	Login(ctx context.Context, req *service.LoginRequest) (*service.LoginResult, error)
	CreateRoom(ctx context.Context, playerID string) (*service.RoomState, error)
	JoinRoom(ctx context.Context, playerID, roomID string) (*service.RoomState, error)
	Ready(ctx context.Context, playerID string) error
	PlacePiece(ctx context.Context, playerID string, row, col int) error
	LeaveRoom(ctx context.Context, playerID string) error
}

// Server accepts player connections and feeds their actions into the
// session core. Every request is answered with exactly one reply frame:
// the success payload or one coded error.
type Server struct {
	logger   *slog.Logger
	sessions sessionManager
	hub      *Hub
	metrics  *monitor.Metrics

	upgrader websocket.Upgrader

	handlers map[string]func(ctx context.Context, client *Client, msg *Message) error
}

func New(logger *slog.Logger, sessions sessionManager, hub *Hub, metrics *monitor.Metrics) *Server {
	server := &Server{
		logger:   logger.With("component", "websocket"),
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlers: make(map[string]func(context.Context, *Client, *Message) error),
	}

	server.handlers[actionLogin] = server.handleLogin
	server.handlers[actionCreateRoom] = server.handleCreateRoom
	server.handlers[actionJoinRoom] = server.handleJoinRoom
	server.handlers[actionReady] = server.handleReady
	server.handlers[actionPlacePiece] = server.handlePlacePiece
	server.handlers[actionLeaveRoom] = server.handleLeaveRoom

	return server
}

// Start - starts the WebSocket server.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.handleConnection(ctx, w, r)
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "handleConnection")

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(conn)

	defer func() {
		if client.playerID != "" {
			that.hub.Unbind(client.playerID, client)
		}
		_ = conn.Close()
	}()

	log.Info("connection established", "remote", conn.RemoteAddr())

	for {
		var message Message
		if err = conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("error reading message", "error", err)
			}
			return
		}

		if err = that.dispatch(ctx, client, &message); err != nil {
			log.Error("error processing message", "action", message.Action, "error", err)
		}
	}
}

func (that *Server) dispatch(ctx context.Context, client *Client, msg *Message) error {
	handler, ok := that.handlers[msg.Action]
	if !ok {
		return that.sendError(client, msg.Action, fmt.Errorf("unknown action %q", msg.Action))
	}

	// every action but login needs an identity bound to the connection
	if msg.Action != actionLogin && client.playerID == "" {
		return that.sendError(client, msg.Action, apperror.ErrInvalidCredentials)
	}

	that.metrics.ActionsProcessed.WithLabelValues(msg.Action).Inc()

	return handler(ctx, client, msg)
}
