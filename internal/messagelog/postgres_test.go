package messagelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/roomchat/internal/database"
	"github.com/thereayou/roomchat/internal/models"
)

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) SaveMessage(ctx context.Context, message *models.Message) error {
	return m.Called(ctx, message).Error(0)
}

func (m *mockRecords) GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, roomID, id)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockRecords) GetRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	list, _ := args.Get(0).([]models.Message)
	return list, args.Error(1)
}

func (m *mockRecords) MergeReactions(ctx context.Context, roomID string, id uuid.UUID, patch map[string]string) error {
	return m.Called(ctx, roomID, id, patch).Error(0)
}

// deadRedis refuses every connection, so publishes fail fast and are only logged.
func deadRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestDecodeChange(t *testing.T) {
	id := uuid.New()

	c, err := decodeChange(`{"kind":"append","message_id":"` + id.String() + `"}`)
	require.NoError(t, err)
	assert.Equal(t, change{Kind: changeAppend, MessageID: id}, c)

	c, err = decodeChange(`{"kind":"reactions","message_id":"` + id.String() + `"}`)
	require.NoError(t, err)
	assert.Equal(t, changeReactions, c.Kind)

	_, err = decodeChange(`{"kind":"rename"}`)
	assert.Error(t, err)
	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}

func TestPostgresLoadAppendReloadsRoom(t *testing.T) {
	ctx := context.Background()
	store := new(mockRecords)
	rows := []models.Message{*textMessage("a", t0), *textMessage("b", t0)}
	store.On("GetRoomMessages", mock.Anything, "r1").Return(rows, nil)
	p := &Postgres{db: store}

	snap, err := p.load(ctx, "r1", change{Kind: changeAppend, MessageID: uuid.New()})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, SnapshotFull, snap.Kind)
	assert.Equal(t, []string{"a", "b"}, texts(snap.Messages))
}

func TestPostgresLoadReactionsFetchesOneRecord(t *testing.T) {
	ctx := context.Background()
	store := new(mockRecords)
	p := &Postgres{db: store}

	msg := textMessage("hi", t0)
	msg.ID = uuid.New()
	msg.Reactions = models.Reactions{"u1": "👍"}
	store.On("GetMessage", mock.Anything, "r1", msg.ID).Return(msg, nil)

	snap, err := p.load(ctx, "r1", change{Kind: changeReactions, MessageID: msg.ID})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, SnapshotReactions, snap.Kind)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.Reactions{"u1": "👍"}, snap.Messages[0].Reactions)

	gone := uuid.New()
	store.On("GetMessage", mock.Anything, "r1", gone).Return(nil, database.ErrNotFound)
	snap, err = p.load(ctx, "r1", change{Kind: changeReactions, MessageID: gone})
	assert.NoError(t, err)
	assert.Nil(t, snap)

	broken := uuid.New()
	cause := errors.New("conn reset")
	store.On("GetMessage", mock.Anything, "r1", broken).Return(nil, cause)
	_, err = p.load(ctx, "r1", change{Kind: changeReactions, MessageID: broken})
	assert.ErrorIs(t, err, cause)
}

func TestPostgresAppendWritesBack(t *testing.T) {
	ctx := context.Background()
	store := new(mockRecords)
	id := uuid.New()
	later := t0.Add(time.Minute)
	store.On("SaveMessage", mock.Anything, mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			m := args.Get(1).(*models.Message)
			m.ID = id
			m.Seq = 7
			m.CreatedAt = later
		}).Return(nil)
	p := NewPostgres(nil, deadRedis(t))
	p.db = store

	msg := textMessage("hi", t0)
	got, err := p.Append(ctx, "r1", msg)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, int64(7), msg.Seq)
	assert.Equal(t, later, msg.CreatedAt)
	assert.Equal(t, "r1", msg.RoomID)

	_, err = p.Append(ctx, "r1", textMessage(" ", t0))
	assert.ErrorIs(t, err, ErrInvalidMessage)
	store.AssertNumberOfCalls(t, "SaveMessage", 1)
}

func TestPostgresMergeMapsNotFound(t *testing.T) {
	ctx := context.Background()
	store := new(mockRecords)
	p := NewPostgres(nil, deadRedis(t))
	p.db = store

	missing, present := uuid.New(), uuid.New()
	patch := Patch{Reactions: map[string]string{"u1": "😂"}}
	store.On("MergeReactions", mock.Anything, "r1", missing, patch.Reactions).Return(database.ErrNotFound)
	store.On("MergeReactions", mock.Anything, "r1", present, patch.Reactions).Return(nil)

	assert.ErrorIs(t, p.Merge(ctx, "r1", missing, patch), ErrMessageNotFound)
	assert.NoError(t, p.Merge(ctx, "r1", present, patch))
}

func TestPostgresSubscribeFailsWithoutRedis(t *testing.T) {
	p := NewPostgres(nil, deadRedis(t))
	p.db = new(mockRecords)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Subscribe(ctx, "r1")
	assert.Error(t, err)
}
