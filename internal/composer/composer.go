// Package composer turns a user's text and optional image into one appended
// message, uploading the image before the message that references it.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/attachments"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/metrics"
	"github.com/thereayou/roomchat/internal/models"
)

const DefaultMaxAttachmentBytes = 5 << 20

var (
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	ErrAppendFailed           = errors.New("append failed")
	ErrAttachmentTooLarge     = errors.New("attachment too large")
	ErrUnsupportedAttachment  = errors.New("attachment is not an image")
	ErrNoRoom                 = errors.New("room id is required")
)

type Attachment struct {
	Name string
	Data []byte
}

type Composer struct {
	log      messagelog.Log
	store    attachments.Store
	maxBytes int
	now      func() time.Time
}

type Option func(*Composer)

func WithMaxAttachmentBytes(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithClock replaces time.Now as the source of createdAt and key timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		c.now = now
	}
}

func New(log messagelog.Log, store attachments.Store, opts ...Option) *Composer {
	c := &Composer{
		log:      log,
		store:    store,
		maxBytes: DefaultMaxAttachmentBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send appends one message to the room. With blank text and no attachment
// it does nothing and returns uuid.Nil with a nil error. A zero-byte
// attachment counts as no attachment.
//
// When an attachment is present it is uploaded first; the message is only
// appended once the upload has succeeded. If the append then fails the
// uploaded blob is left behind unreferenced.
func (c *Composer) Send(ctx context.Context, author models.Author, roomID, text string, attachment *Attachment) (uuid.UUID, error) {
	if attachment != nil && len(attachment.Data) == 0 {
		attachment = nil
	}
	if strings.TrimSpace(text) == "" && attachment == nil {
		return uuid.Nil, nil
	}
	if roomID == "" {
		return uuid.Nil, ErrNoRoom
	}

	var ref *string
	if attachment != nil {
		uploaded, err := c.upload(ctx, c.now(), attachment)
		if err != nil {
			return uuid.Nil, err
		}
		s := string(uploaded)
		ref = &s
	}

	// Stamped after the upload so a slow image does not claim a place ahead
	// of messages appended while it was in flight.
	createdAt := c.now()

	message := &models.Message{
		RoomID:            roomID,
		Text:              text,
		AttachmentRef:     ref,
		AuthorID:          author.ID,
		AuthorDisplayName: author.DisplayName,
		AuthorAvatarURL:   author.AvatarURL,
		CreatedAt:         createdAt,
		Reactions:         models.Reactions{},
	}

	id, err := c.log.Append(ctx, roomID, message)
	if err != nil {
		metrics.SendFailures.WithLabelValues("append").Inc()
		if ref != nil {
			glog.Warningf("composer: append to room %s failed, attachment %s left unreferenced: %v", roomID, *ref, err)
		}
		return uuid.Nil, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	metrics.MessagesAppended.Inc()
	glog.V(1).Infof("composer: %s appended %s to room %s", author.ID, id, roomID)
	return id, nil
}

func (c *Composer) upload(ctx context.Context, at time.Time, attachment *Attachment) (attachments.Ref, error) {
	if len(attachment.Data) > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrAttachmentTooLarge, len(attachment.Data), c.maxBytes)
	}

	mtype := mimetype.Detect(attachment.Data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrUnsupportedAttachment, mtype.String())
	}

	key := attachments.NewKey(at, attachment.Name, attachment.Data)
	ref, err := c.store.Put(ctx, key, mtype.String(), attachment.Data)
	if err != nil {
		metrics.SendFailures.WithLabelValues("upload").Inc()
		return "", fmt.Errorf("%w: %w", ErrAttachmentUploadFailed, err)
	}

	metrics.AttachmentBytes.Add(float64(len(attachment.Data)))
	return ref, nil
}
