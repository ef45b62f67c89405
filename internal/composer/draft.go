package composer

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/models"
)

// Draft holds what a user has typed and picked but not yet sent.
type Draft struct {
	mu         sync.Mutex
	text       string
	attachment *Attachment
}

func (d *Draft) ComposeText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

func (d *Draft) ComposeAttachment(data []byte, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachment = &Attachment{Name: name, Data: append([]byte(nil), data...)}
}

func (d *Draft) ClearAttachment() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachment = nil
}

// Pending returns the current text and attachment.
func (d *Draft) Pending() (string, *Attachment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attachment == nil {
		return d.text, nil
	}
	a := *d.attachment
	return d.text, &a
}

func (d *Draft) Empty() bool {
	text, attachment := d.Pending()
	return strings.TrimSpace(text) == "" && (attachment == nil || len(attachment.Data) == 0)
}

// clearIf resets the draft only if it still holds what was sent, so input
// typed while the send was in flight survives.
func (d *Draft) clearIf(text string, attachment *Attachment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text == text {
		d.text = ""
	}
	if attachment != nil && d.attachment != nil && d.attachment.Name == attachment.Name &&
		bytes.Equal(d.attachment.Data, attachment.Data) {
		d.attachment = nil
	}
}

// Submit sends the draft. It is cleared only when the append succeeded; on
// any error the draft is kept for a retry.
func (c *Composer) Submit(ctx context.Context, author models.Author, roomID string, d *Draft) (uuid.UUID, error) {
	text, attachment := d.Pending()
	id, err := c.Send(ctx, author, roomID, text, attachment)
	if err != nil {
		return uuid.Nil, err
	}
	if id != uuid.Nil {
		d.clearIf(text, attachment)
	}
	return id, nil
}
