// Package messagelog defines the append-only, server-ordered message log each
// room writes to and reads from, and provides its implementations.
package messagelog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrClosed          = errors.New("subscription closed")
)

type SnapshotKind int

const (
	// SnapshotFull carries the complete room sequence in log order.
	SnapshotFull SnapshotKind = iota
	// SnapshotReactions carries only records whose reactions changed.
	SnapshotReactions
)

func (k SnapshotKind) String() string {
	switch k {
	case SnapshotFull:
		return "full"
	case SnapshotReactions:
		return "reactions"
	default:
		return "unknown"
	}
}

type Snapshot struct {
	Kind     SnapshotKind
	Messages []models.Message
}

// Patch names the fields a merge writes. Only the listed reaction keys are
// touched; the rest of the record stays as stored.
type Patch struct {
	Reactions map[string]string
}

type Subscription interface {
	// Snapshots is closed when the subscription ends.
	Snapshots() <-chan Snapshot
	// Err reports why the subscription ended: ErrClosed after Close, the
	// transport error otherwise. Nil while the subscription is live.
	Err() error
	Close() error
}

type Log interface {
	// Append stores the record and returns the id the log assigned to it.
	Append(ctx context.Context, roomID string, message *models.Message) (uuid.UUID, error)

	Merge(ctx context.Context, roomID string, messageID uuid.UUID, patch Patch) error

	// Subscribe delivers a full snapshot first and then every later change
	// to the room, in log order.
	Subscribe(ctx context.Context, roomID string) (Subscription, error)

	List(ctx context.Context, roomID string) ([]models.Message, error)
}
