package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/o2games/tictactoe-server/internal/entity"
	"github.com/o2games/tictactoe-server/internal/tictactoe"
)

// wsConn is the slice of a websocket connection the hub needs; satisfied by
// *gorilla/websocket.Conn.
type wsConn interface {
	WriteJSON(v any) error
	Close() error
}

type gauge interface {
	Inc()
	Dec()
}

// Client is one connected player's channel. Writes are serialized by the
// client's own mutex.
type Client struct {
	mu       sync.Mutex
	conn     wsConn
	playerID string
}

func newClient(conn wsConn) *Client {
	return &Client{conn: conn}
}

func (that *Client) send(action string, payload any) error {
	message := Message{Action: action}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		message.Payload = raw
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Hub maps player identities to their live connections and delivers the
// session core's notifications to them. It implements the room and game
// notifier interfaces; a player without a connection just misses the push,
// login resume covers them.
type Hub struct {
	logger *slog.Logger
	online gauge

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(logger *slog.Logger, online gauge) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		online:  online,
		clients: make(map[string]*Client),
	}
}

// Bind attaches the connection to the player identity. A reconnect replaces
// the previous connection; a connection logging in again releases its old
// identity first. The online gauge tracks the number of bound identities.
func (that *Hub) Bind(playerID string, client *Client) {
	that.mu.Lock()

	before := len(that.clients)

	if client.playerID != "" && client.playerID != playerID {
		if current, ok := that.clients[client.playerID]; ok && current == client {
			delete(that.clients, client.playerID)
		}
	}

	previous, existed := that.clients[playerID]
	that.clients[playerID] = client
	client.playerID = playerID

	delta := len(that.clients) - before

	that.mu.Unlock()

	if existed && previous != client {
		_ = previous.conn.Close()
	}

	if that.online == nil {
		return
	}

	switch {
	case delta > 0:
		that.online.Inc()
	case delta < 0:
		that.online.Dec()
	}
}

// Unbind detaches the connection unless the player has already reconnected
// elsewhere.
func (that *Hub) Unbind(playerID string, client *Client) {
	that.mu.Lock()
	current, ok := that.clients[playerID]
	if ok && current == client {
		delete(that.clients, playerID)
	}
	that.mu.Unlock()

	if ok && current == client && that.online != nil {
		that.online.Dec()
	}
}

func (that *Hub) GameStart(playerID string, view *tictactoe.View) {
	that.push(playerID, actionGameStart, view)
}

func (that *Hub) NextTurn(playerID string, view *tictactoe.View) {
	that.push(playerID, actionGameTurn, view)
}

func (that *Hub) GameOver(playerID string, view *tictactoe.View) {
	that.push(playerID, actionGameOver, view)
}

func (that *Hub) OpponentJoined(playerID string, opponent *entity.PlayerInfo) {
	that.push(playerID, actionOpponentJoined, opponent)
}

func (that *Hub) OpponentReady(playerID string) {
	that.push(playerID, actionOpponentReady, nil)
}

func (that *Hub) OpponentLeft(playerID string) {
	that.push(playerID, actionOpponentLeft, nil)
}

func (that *Hub) RoomDismissed(playerID string) {
	that.push(playerID, actionRoomDismissed, nil)
}

func (that *Hub) push(playerID, action string, payload any) {
	that.mu.RLock()
	client, ok := that.clients[playerID]
	that.mu.RUnlock()

	if !ok {
		that.logger.Warn("connection not found for player", "playerID", playerID, "action", action)
		return
	}

	if err := client.send(action, payload); err != nil {
		that.logger.Error("failed to push message", "playerID", playerID, "action", action, "error", err)
	}
}
