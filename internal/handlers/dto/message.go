package dto

import (
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/attachments"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/internal/reactions"
)

// Resolver turns attachment references into URLs.
type Resolver interface {
	Resolve(ref attachments.Ref) (string, error)
}

// SendRequest is the JSON body of a text-only send.
type SendRequest struct {
	Text string `json:"text"`
}

type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// ComposeTextPayload replaces the draft text.
type ComposeTextPayload struct {
	Text string `json:"text"`
}

// ComposeAttachmentPayload stages an image in the draft. Data is base64 in
// JSON.
type ComposeAttachmentPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type ReactPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
}

type SentPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	RoomID    string    `json:"room_id"`
}

// SnapshotPayload is pushed to a connection whenever its room view changes.
type SnapshotPayload struct {
	RoomID      string            `json:"room_id"`
	State       string            `json:"state"`
	Messages    []MessageResponse `json:"messages"`
	Interrupted string            `json:"interrupted,omitempty"`
}

type MessageResponse struct {
	ID             uuid.UUID         `json:"id"`
	RoomID         string            `json:"room_id"`
	Text           string            `json:"text"`
	AttachmentURL  *string           `json:"attachment_url,omitempty"`
	Author         UserInfo          `json:"author"`
	CreatedAt      time.Time         `json:"created_at"`
	Reactions      []reactions.Entry `json:"reactions"`
	ReactionGroups []reactions.Group `json:"reaction_groups"`
}

type UserInfo struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

func NewUserInfo(a models.Author) UserInfo {
	return UserInfo{ID: a.ID, DisplayName: a.DisplayName, AvatarURL: a.AvatarURL}
}

func NewMessageResponse(m *models.Message, resolver Resolver) MessageResponse {
	resp := MessageResponse{
		ID:             m.ID,
		RoomID:         m.RoomID,
		Text:           m.Text,
		Author:         NewUserInfo(m.Author()),
		CreatedAt:      m.CreatedAt,
		Reactions:      reactions.Unpack(m.Reactions),
		ReactionGroups: reactions.GroupByEmoji(m.Reactions),
	}
	if m.HasAttachment() && resolver != nil {
		url, err := resolver.Resolve(attachments.Ref(*m.AttachmentRef))
		if err != nil {
			glog.Warningf("dto: cannot resolve attachment %s of %s: %v", *m.AttachmentRef, m.ID, err)
		} else {
			resp.AttachmentURL = &url
		}
	}
	return resp
}

func NewMessageResponses(messages []models.Message, resolver Resolver) []MessageResponse {
	out := make([]MessageResponse, len(messages))
	for i := range messages {
		out[i] = NewMessageResponse(&messages[i], resolver)
	}
	return out
}
