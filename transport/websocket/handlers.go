package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/o2games/tictactoe-server/internal/apperror"
	"github.com/o2games/tictactoe-server/internal/service"
)

func (that *Server) handleLogin(ctx context.Context, client *Client, msg *Message) error {
	log := that.logger.With("method", "handleLogin")

	var req service.LoginRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return that.sendError(client, msg.Action, apperror.ErrInvalidCredentials)
	}

	result, err := that.sessions.Login(ctx, &req)
	if err != nil {
		log.Error("login failed", "error", err)
		return that.sendError(client, msg.Action, err)
	}

	that.hub.Bind(result.PlayerID, client)

	log.Info("player logged in", "playerID", result.PlayerID)

	return that.sendReply(client, msg.Action, result)
}

func (that *Server) handleCreateRoom(ctx context.Context, client *Client, msg *Message) error {
	room, err := that.sessions.CreateRoom(ctx, client.playerID)
	if err != nil {
		return that.sendError(client, msg.Action, err)
	}

	return that.sendReply(client, msg.Action, room)
}

func (that *Server) handleJoinRoom(ctx context.Context, client *Client, msg *Message) error {
	var payload JoinRoomPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return that.sendError(client, msg.Action, apperror.ErrRoomNotFound)
	}

	room, err := that.sessions.JoinRoom(ctx, client.playerID, payload.RoomID)
	if err != nil {
		return that.sendError(client, msg.Action, err)
	}

	return that.sendReply(client, msg.Action, room)
}

func (that *Server) handleReady(ctx context.Context, client *Client, msg *Message) error {
	if err := that.sessions.Ready(ctx, client.playerID); err != nil {
		return that.sendError(client, msg.Action, err)
	}

	return that.sendReply(client, msg.Action, nil)
}

func (that *Server) handlePlacePiece(ctx context.Context, client *Client, msg *Message) error {
	var payload PlacePiecePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return that.sendError(client, msg.Action, apperror.ErrCellOccupied)
	}

	if err := that.sessions.PlacePiece(ctx, client.playerID, payload.Row, payload.Col); err != nil {
		return that.sendError(client, msg.Action, err)
	}

	return that.sendReply(client, msg.Action, nil)
}

func (that *Server) handleLeaveRoom(ctx context.Context, client *Client, msg *Message) error {
	if err := that.sessions.LeaveRoom(ctx, client.playerID); err != nil {
		return that.sendError(client, msg.Action, err)
	}

	return that.sendReply(client, msg.Action, nil)
}

func (that *Server) sendReply(client *Client, action string, payload any) error {
	if err := client.send(action, payload); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	return nil
}

func (that *Server) sendError(client *Client, action string, err error) error {
	if sendErr := client.send(action, ErrorPayload{Error: apperror.FromError(err)}); sendErr != nil {
		return fmt.Errorf("failed to send error reply: %w", sendErr)
	}

	return nil
}
