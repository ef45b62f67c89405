package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/composer"
	"github.com/thereayou/roomchat/internal/handlers/dto"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/middleware"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/internal/reactions"
	"github.com/thereayou/roomchat/internal/services"
)

type HTTPMessageHandler struct {
	history  services.HistoryReader
	sender   services.MessageSender
	reactor  services.Reactor
	resolver dto.Resolver
	maxBytes int64
}

func NewHTTPMessageHandler(history services.HistoryReader, sender services.MessageSender, reactor services.Reactor, resolver dto.Resolver, maxBytes int) *HTTPMessageHandler {
	return &HTTPMessageHandler{
		history:  history,
		sender:   sender,
		reactor:  reactor,
		resolver: resolver,
		maxBytes: int64(maxBytes),
	}
}

// GetRoomMessages returns the room's messages in log order.
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("room")

	messages, err := h.history.List(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"messages": dto.NewMessageResponses(messages, h.resolver),
	})
}

// SendMessage accepts a JSON {text} body, or a multipart form with a text
// field and an optional image file.
func (h *HTTPMessageHandler) SendMessage(c *gin.Context) {
	author, ok := middleware.CurrentAuthor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roomID := c.Param("room")

	var (
		text       string
		attachment *composer.Attachment
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		text = c.PostForm("text")
		a, err := h.readImage(c)
		if err != nil {
			writeError(c, err)
			return
		}
		attachment = a
	} else {
		var req dto.SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text = req.Text
	}

	id, err := h.sender.Send(c.Request.Context(), author, roomID, text, attachment)
	if err != nil {
		writeError(c, err)
		return
	}
	if id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrEmptyMessage.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.SentPayload{MessageID: id, RoomID: roomID})
}

func (h *HTTPMessageHandler) readImage(c *gin.Context) (*composer.Attachment, error) {
	header, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if header.Size > h.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", composer.ErrAttachmentTooLarge, header.Size)
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return &composer.Attachment{Name: header.Filename, Data: data}, nil
}

// React sets the caller's reaction on a message.
func (h *HTTPMessageHandler) React(c *gin.Context) {
	author, ok := middleware.CurrentAuthor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	var req dto.ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reactor.React(c.Request.Context(), c.Param("room"), messageID, author.ID, req.Emoji); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": messageID,
		"user_id":    author.ID,
		"emoji":      req.Emoji,
	})
}

func (h *HTTPMessageHandler) GetPalette(c *gin.Context) {
	palette := h.reactor.Palette()
	if palette == nil {
		palette = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"emojis": palette})
}

var errBadRequest = errors.New("bad request")

// writeError maps component errors to status codes. Upload, append and merge
// failures are 502 so the caller knows a retry may succeed.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, composer.ErrNoRoom),
		errors.Is(err, reactions.ErrInvalidEmoji),
		errors.Is(err, reactions.ErrInvalidUser),
		errors.Is(err, messagelog.ErrInvalidMessage),
		errors.Is(err, models.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, reactions.ErrMessageNotFound),
		errors.Is(err, messagelog.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, composer.ErrAttachmentTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, composer.ErrUnsupportedAttachment):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, composer.ErrAttachmentUploadFailed),
		errors.Is(err, composer.ErrAppendFailed),
		errors.Is(err, reactions.ErrMergeFailed):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
