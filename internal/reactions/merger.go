// Package reactions applies per-user emoji reactions to messages as
// single-key merges and shapes reaction maps for display.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/metrics"
)

// DefaultPalette is the set of emoji offered next to every message.
var DefaultPalette = []string{"😀", "❤️", "👍", "😂"}

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMergeFailed     = errors.New("reaction merge failed")
	ErrInvalidEmoji    = errors.New("emoji not allowed")
	ErrInvalidUser     = errors.New("user id is required")
)

type Merger struct {
	log     messagelog.Log
	allowed map[string]struct{}
}

// NewMerger returns a merger writing to log. An empty palette accepts any
// non-blank emoji.
func NewMerger(log messagelog.Log, palette []string) *Merger {
	m := &Merger{log: log}
	if len(palette) > 0 {
		m.allowed = make(map[string]struct{}, len(palette))
		for _, e := range palette {
			m.allowed[e] = struct{}{}
		}
	}
	return m
}

// React sets userID's reaction on the message to emoji. Only that user's key
// is written, so reactions from other users are never overwritten. Failures
// are returned as is; retrying is up to the caller.
func (m *Merger) React(ctx context.Context, roomID string, messageID, userID uuid.UUID, emoji string) error {
	if userID == uuid.Nil {
		return ErrInvalidUser
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrInvalidEmoji
	}
	if m.allowed != nil {
		if _, ok := m.allowed[emoji]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidEmoji, emoji)
		}
	}

	patch := messagelog.Patch{Reactions: map[string]string{userID.String(): emoji}}
	if err := m.log.Merge(ctx, roomID, messageID, patch); err != nil {
		if errors.Is(err, messagelog.ErrMessageNotFound) {
			metrics.ReactionFailures.WithLabelValues("not_found").Inc()
			return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		metrics.ReactionFailures.WithLabelValues("merge").Inc()
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}

	metrics.ReactionsMerged.Inc()
	glog.V(1).Infof("reactions: %s reacted %s on %s in room %s", userID, emoji, messageID, roomID)
	return nil
}

func (m *Merger) Palette() []string {
	if m.allowed == nil {
		return nil
	}
	out := make([]string, 0, len(m.allowed))
	for _, e := range DefaultPalette {
		if _, ok := m.allowed[e]; ok {
			out = append(out, e)
		}
	}
	for e := range m.allowed {
		if !contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
