package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/handlers/dto"
	"github.com/thereayou/roomchat/internal/services"
	"github.com/thereayou/roomchat/internal/websocket"
)

const intentTimeout = 15 * time.Second

// MessageHandler turns websocket intents into composer and reaction calls.
// Results reach the sender and everyone else through their room views, not
// through this handler.
type MessageHandler struct {
	sender  services.MessageSender
	reactor services.Reactor
}

func NewMessageHandler(sender services.MessageSender, reactor services.Reactor) *MessageHandler {
	return &MessageHandler{sender: sender, reactor: reactor}
}

func (h *MessageHandler) HandleMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeComposeText:
		var payload dto.ComposeTextPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}
		client.Draft.ComposeText(payload.Text)
		return nil

	case websocket.TypeComposeAttachment:
		var payload dto.ComposeAttachmentPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}
		if len(payload.Data) == 0 {
			return websocket.ErrInvalidMessage
		}
		client.Draft.ComposeAttachment(payload.Data, payload.Name)
		return nil

	case websocket.TypeClearAttachment:
		client.Draft.ClearAttachment()
		return nil

	case websocket.TypeSubmit:
		return h.handleSubmit(client)

	case websocket.TypeMessage:
		return h.handleTextMessage(client, msg)

	case websocket.TypeReact:
		return h.handleReact(client, msg)

	default:
		glog.V(1).Infof("ws: unknown frame type %q from %s", msg.Type, client.ID)
		return nil
	}
}

func (h *MessageHandler) handleSubmit(client *websocket.Client) error {
	roomID := client.RoomID()
	if roomID == "" {
		return websocket.ErrNotInRoom
	}

	ctx, cancel := context.WithTimeout(client.Context(), intentTimeout)
	defer cancel()

	id, err := h.sender.Submit(ctx, client.Author, roomID, client.Draft)
	if err != nil {
		return err
	}
	return ackSent(client, roomID, id)
}

// handleTextMessage sends text in one step, leaving the draft alone.
func (h *MessageHandler) handleTextMessage(client *websocket.Client, msg *websocket.Message) error {
	roomID := client.RoomID()
	if roomID == "" {
		return websocket.ErrNotInRoom
	}

	var payload dto.ComposeTextPayload
	if err := decode(msg, &payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(client.Context(), intentTimeout)
	defer cancel()

	id, err := h.sender.Send(ctx, client.Author, roomID, payload.Text, nil)
	if err != nil {
		return err
	}
	return ackSent(client, roomID, id)
}

func (h *MessageHandler) handleReact(client *websocket.Client, msg *websocket.Message) error {
	roomID := client.RoomID()
	if roomID == "" {
		return websocket.ErrNotInRoom
	}

	var payload dto.ReactPayload
	if err := decode(msg, &payload); err != nil {
		return err
	}
	if payload.MessageID == uuid.Nil {
		return websocket.ErrInvalidMessage
	}

	ctx, cancel := context.WithTimeout(client.Context(), intentTimeout)
	defer cancel()

	return h.reactor.React(ctx, roomID, payload.MessageID, client.Author.ID, payload.Emoji)
}

// ackSent confirms an append to the sender. A blank send appended nothing
// and is not acknowledged.
func ackSent(client *websocket.Client, roomID string, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return client.SendMessage(websocket.TypeMessageSent, dto.SentPayload{MessageID: id, RoomID: roomID})
}

func decode(msg *websocket.Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return websocket.ErrInvalidMessage
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return websocket.ErrInvalidMessage
	}
	return nil
}
