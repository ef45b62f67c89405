package messagelog

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/models"
)

// Memory is a process-local Log. It keeps every room in memory and is used
// for single-node runs and tests.
type Memory struct {
	mu    sync.Mutex
	seq   int64
	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	messages []models.Message
	index    map[uuid.UUID]int
	subs     map[*feed]struct{}
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memoryRoom)}
}

// room must be called with m.mu held.
func (m *Memory) room(roomID string) *memoryRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memoryRoom{
			index: make(map[uuid.UUID]int),
			subs:  make(map[*feed]struct{}),
		}
		m.rooms[roomID] = r
	}
	return r
}

func (r *memoryRoom) snapshot() []models.Message {
	out := make([]models.Message, len(r.messages))
	for i := range r.messages {
		out[i] = r.messages[i].Clone()
	}
	return out
}

func (m *Memory) Append(ctx context.Context, roomID string, message *models.Message) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if roomID == "" {
		return uuid.Nil, ErrInvalidMessage
	}
	if err := message.Validate(); err != nil {
		return uuid.Nil, ErrInvalidMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	record := message.Clone()
	record.ID = uuid.New()
	record.Seq = m.seq
	record.RoomID = roomID

	r := m.room(roomID)
	if n := len(r.messages); n > 0 {
		record.NotBefore(r.messages[n-1].CreatedAt)
	}
	pos := len(r.messages)
	r.messages = append(r.messages, record)
	r.index[record.ID] = pos

	message.ID = record.ID
	message.Seq = record.Seq
	message.RoomID = roomID
	message.CreatedAt = record.CreatedAt

	if len(r.subs) > 0 {
		snap := Snapshot{Kind: SnapshotFull, Messages: r.snapshot()}
		for f := range r.subs {
			f.push(snap)
		}
	}

	glog.V(2).Infof("memory log: appended %s to room %s at %d", record.ID, roomID, pos)
	return record.ID, nil
}

func (m *Memory) Merge(ctx context.Context, roomID string, messageID uuid.UUID, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrMessageNotFound
	}
	pos, ok := r.index[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if len(patch.Reactions) == 0 {
		return nil
	}

	// Replace the map rather than writing into it: snapshots already handed
	// out share nothing with the stored record.
	next := r.messages[pos].Reactions.Clone()
	for userID, emoji := range patch.Reactions {
		next[userID] = emoji
	}
	r.messages[pos].Reactions = next

	if len(r.subs) > 0 {
		snap := Snapshot{Kind: SnapshotReactions, Messages: []models.Message{r.messages[pos].Clone()}}
		for f := range r.subs {
			f.push(snap)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID)
	var f *feed
	f = newFeed(func() {
		m.mu.Lock()
		delete(r.subs, f)
		m.mu.Unlock()
	})
	r.subs[f] = struct{}{}
	f.push(Snapshot{Kind: SnapshotFull, Messages: r.snapshot()})

	go func() {
		select {
		case <-ctx.Done():
			f.end(ctx.Err())
		case <-f.done:
		}
	}()

	return f, nil
}

func (m *Memory) List(ctx context.Context, roomID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return []models.Message{}, nil
	}
	return r.snapshot(), nil
}

// Disconnect ends every subscription to the room with err, as a dropped
// transport would.
func (m *Memory) Disconnect(roomID string, err error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	var feeds []*feed
	if ok {
		for f := range r.subs {
			feeds = append(feeds, f)
		}
	}
	m.mu.Unlock()

	for _, f := range feeds {
		f.end(err)
	}
}

// Subscribers reports the number of live subscriptions to the room.
func (m *Memory) Subscribers(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		return len(r.subs)
	}
	return 0
}
