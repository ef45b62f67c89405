package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyMessage = errors.New("message has neither text nor attachment")

// Author is the sender identity captured at send time. It is copied onto the
// message and never refreshed from the profile afterwards.
type Author struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

type Message struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Seq               int64     `gorm:"autoIncrement;not null;uniqueIndex"`
	RoomID            string    `gorm:"not null;index:idx_messages_room_order,priority:1"`
	Text              string    `gorm:"not null;default:''"`
	AttachmentRef     *string
	AuthorID          uuid.UUID `gorm:"type:uuid;not null"`
	AuthorDisplayName string    `gorm:"not null"`
	AuthorAvatarURL   string
	CreatedAt         time.Time `gorm:"not null;index:idx_messages_room_order,priority:2"`
	Reactions         Reactions `gorm:"type:jsonb;not null;default:'{}'"`
}

func (m *Message) Author() Author {
	return Author{
		ID:          m.AuthorID,
		DisplayName: m.AuthorDisplayName,
		AvatarURL:   m.AuthorAvatarURL,
	}
}

func (m *Message) HasAttachment() bool {
	return m.AttachmentRef != nil && *m.AttachmentRef != ""
}

// Validate checks the content invariant: text or attachment, never neither.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" && !m.HasAttachment() {
		return ErrEmptyMessage
	}
	return nil
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	if m.AttachmentRef != nil {
		ref := *m.AttachmentRef
		m.AttachmentRef = &ref
	}
	m.Reactions = m.Reactions.Clone()
	return m
}

// NotBefore moves CreatedAt up to floor when it is earlier. Logs call it with
// the room's last createdAt so an append always lands at the tail.
func (m *Message) NotBefore(floor time.Time) {
	if m.CreatedAt.Before(floor) {
		m.CreatedAt = floor
	}
}
