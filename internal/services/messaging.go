package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/attachments"
	"github.com/thereayou/roomchat/internal/composer"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/internal/reactions"
)

// MessageSender appends messages on behalf of an author.
type MessageSender interface {
	Send(ctx context.Context, author models.Author, roomID, text string, attachment *composer.Attachment) (uuid.UUID, error)
	Submit(ctx context.Context, author models.Author, roomID string, draft *composer.Draft) (uuid.UUID, error)
}

type Reactor interface {
	React(ctx context.Context, roomID string, messageID, userID uuid.UUID, emoji string) error
	Palette() []string
}

// HistoryReader is the one-shot read behind the HTTP history endpoint.
type HistoryReader interface {
	List(ctx context.Context, roomID string) ([]models.Message, error)
}

type AttachmentReader interface {
	Open(ctx context.Context, ref attachments.Ref) (*attachments.Blob, error)
	Resolve(ref attachments.Ref) (string, error)
}

var (
	_ MessageSender    = (*composer.Composer)(nil)
	_ Reactor          = (*reactions.Merger)(nil)
	_ HistoryReader    = (messagelog.Log)(nil)
	_ AttachmentReader = (attachments.Store)(nil)
)
