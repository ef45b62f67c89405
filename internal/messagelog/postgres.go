package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/database"
	"github.com/thereayou/roomchat/internal/models"
)

const (
	channelPrefix = "roomchat:room:"

	changeAppend    = "append"
	changeReactions = "reactions"

	// receiveTimeout bounds a quiet redis read; on timeout the connection is
	// pinged so a dead peer is noticed.
	receiveTimeout = 30 * time.Second
)

type change struct {
	Kind      string    `json:"kind"`
	MessageID uuid.UUID `json:"message_id"`
}

// recordStore is the part of database.Database the log needs.
type recordStore interface {
	SaveMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*models.Message, error)
	GetRoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
	MergeReactions(ctx context.Context, roomID string, id uuid.UUID, patch map[string]string) error
}

var _ recordStore = (*database.Database)(nil)

// Postgres stores records through the database package and announces every
// committed change on a per-room redis channel, so subscribers on any node
// see the same order.
type Postgres struct {
	db    recordStore
	redis *redis.Client
}

func NewPostgres(db *database.Database, rdb *redis.Client) *Postgres {
	return &Postgres{db: db, redis: rdb}
}

func roomChannel(roomID string) string {
	return channelPrefix + roomID
}

func (p *Postgres) publish(ctx context.Context, roomID string, c change) {
	payload, err := json.Marshal(c)
	if err != nil {
		glog.Errorf("postgres log: marshal change: %v", err)
		return
	}
	// The write is already committed; a lost notification is repaired by the
	// full reload subscribers do on reattach.
	if err := p.redis.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		glog.Warningf("postgres log: publish %s for room %s: %v", c.Kind, roomID, err)
	}
}

func (p *Postgres) Append(ctx context.Context, roomID string, message *models.Message) (uuid.UUID, error) {
	if roomID == "" {
		return uuid.Nil, ErrInvalidMessage
	}
	if err := message.Validate(); err != nil {
		return uuid.Nil, ErrInvalidMessage
	}

	record := message.Clone()
	record.ID = uuid.Nil
	record.Seq = 0
	record.RoomID = roomID
	if err := p.db.SaveMessage(ctx, &record); err != nil {
		return uuid.Nil, err
	}

	message.ID = record.ID
	message.Seq = record.Seq
	message.RoomID = roomID
	message.CreatedAt = record.CreatedAt

	p.publish(ctx, roomID, change{Kind: changeAppend, MessageID: record.ID})
	return record.ID, nil
}

func (p *Postgres) Merge(ctx context.Context, roomID string, messageID uuid.UUID, patch Patch) error {
	if err := p.db.MergeReactions(ctx, roomID, messageID, patch.Reactions); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	p.publish(ctx, roomID, change{Kind: changeReactions, MessageID: messageID})
	return nil
}

func (p *Postgres) List(ctx context.Context, roomID string) ([]models.Message, error) {
	return p.db.GetRoomMessages(ctx, roomID)
}

func (p *Postgres) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps := p.redis.Subscribe(ctx, roomChannel(roomID))
	// Wait for the subscribe confirmation so no change committed after this
	// point is missed by the initial load below.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	messages, err := p.db.GetRoomMessages(ctx, roomID)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	f := newFeed(cancel)
	f.push(Snapshot{Kind: SnapshotFull, Messages: messages})

	go p.listen(subCtx, roomID, ps, f)

	return f, nil
}

func (p *Postgres) listen(ctx context.Context, roomID string, ps *redis.PubSub, f *feed) {
	defer ps.Close()

	for {
		msg, err := ps.ReceiveTimeout(ctx, receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				f.end(ErrClosed)
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if err := ps.Ping(ctx); err == nil {
					continue
				}
			}
			glog.Warningf("postgres log: room %s subscription lost: %v", roomID, err)
			f.end(err)
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}

		c, err := decodeChange(m.Payload)
		if err != nil {
			glog.Warningf("postgres log: bad change on %s: %v", m.Channel, err)
			continue
		}

		snap, err := p.load(ctx, roomID, c)
		if err != nil {
			if ctx.Err() != nil {
				f.end(ErrClosed)
				return
			}
			glog.Errorf("postgres log: reload room %s after %s: %v", roomID, c.Kind, err)
			f.end(err)
			return
		}
		if snap != nil {
			f.push(*snap)
		}
	}
}

func decodeChange(payload string) (change, error) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return change{}, err
	}
	switch c.Kind {
	case changeAppend, changeReactions:
		return c, nil
	default:
		return change{}, fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

func (p *Postgres) load(ctx context.Context, roomID string, c change) (*Snapshot, error) {
	switch c.Kind {
	case changeReactions:
		message, err := p.db.GetMessage(ctx, roomID, c.MessageID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &Snapshot{Kind: SnapshotReactions, Messages: []models.Message{*message}}, nil
	default:
		messages, err := p.db.GetRoomMessages(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return &Snapshot{Kind: SnapshotFull, Messages: messages}, nil
	}
}
