package reactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/models"
)

var (
	userA = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	userB = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
)

type failingLog struct {
	messagelog.Log
	mock.Mock
}

func (f *failingLog) Merge(ctx context.Context, roomID string, messageID uuid.UUID, patch messagelog.Patch) error {
	return f.Called(ctx, roomID, messageID, patch).Error(0)
}

func seed(t *testing.T, log *messagelog.Memory) uuid.UUID {
	t.Helper()
	id, err := log.Append(context.Background(), "r1", &models.Message{
		Text:      "hello",
		AuthorID:  userA,
		CreatedAt: time.Now(),
		Reactions: models.Reactions{},
	})
	require.NoError(t, err)
	return id
}

func reactionsOf(t *testing.T, log *messagelog.Memory, id uuid.UUID) models.Reactions {
	t.Helper()
	list, err := log.List(context.Background(), "r1")
	require.NoError(t, err)
	for _, m := range list {
		if m.ID == id {
			return m.Reactions
		}
	}
	t.Fatalf("message %s not in log", id)
	return nil
}

func TestReactOverwritesOwnReaction(t *testing.T) {
	ctx := context.Background()
	log := messagelog.NewMemory()
	id := seed(t, log)
	m := NewMerger(log, DefaultPalette)

	require.NoError(t, m.React(ctx, "r1", id, userA, "😀"))
	require.NoError(t, m.React(ctx, "r1", id, userA, "👍"))

	assert.Equal(t, models.Reactions{userA.String(): "👍"}, reactionsOf(t, log, id))
}

func TestReactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	log := messagelog.NewMemory()
	id := seed(t, log)
	m := NewMerger(log, DefaultPalette)

	require.NoError(t, m.React(ctx, "r1", id, userA, "❤️"))
	require.NoError(t, m.React(ctx, "r1", id, userA, "❤️"))

	assert.Equal(t, models.Reactions{userA.String(): "❤️"}, reactionsOf(t, log, id))
}

func TestReactFromDifferentUsersCommute(t *testing.T) {
	ctx := context.Background()
	want := models.Reactions{userA.String(): "😀", userB.String(): "😂"}

	for _, order := range [][]uuid.UUID{{userA, userB}, {userB, userA}} {
		log := messagelog.NewMemory()
		id := seed(t, log)
		m := NewMerger(log, nil)

		for _, u := range order {
			emoji := "😀"
			if u == userB {
				emoji = "😂"
			}
			require.NoError(t, m.React(ctx, "r1", id, u, emoji))
		}
		assert.Equal(t, want, reactionsOf(t, log, id))
	}
}

func TestReactConcurrentUsersLoseNothing(t *testing.T) {
	ctx := context.Background()
	log := messagelog.NewMemory()
	id := seed(t, log)
	m := NewMerger(log, nil)

	users := make([]uuid.UUID, 50)
	errs := make(chan error, len(users))
	for i := range users {
		users[i] = uuid.New()
		go func(u uuid.UUID) { errs <- m.React(ctx, "r1", id, u, "👍") }(users[i])
	}
	for range users {
		require.NoError(t, <-errs)
	}

	got := reactionsOf(t, log, id)
	assert.Len(t, got, len(users))
	for _, u := range users {
		assert.Equal(t, "👍", got[u.String()])
	}
}

func TestReactUnknownMessage(t *testing.T) {
	m := NewMerger(messagelog.NewMemory(), nil)
	err := m.React(context.Background(), "r1", uuid.New(), userA, "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReactMergeFailure(t *testing.T) {
	cause := errors.New("write timeout")
	log := &failingLog{}
	log.On("Merge", mock.Anything, "r1", mock.Anything, mock.Anything).Return(cause)
	m := NewMerger(log, nil)

	messageID := uuid.New()
	err := m.React(context.Background(), "r1", messageID, userA, "👍")
	assert.ErrorIs(t, err, ErrMergeFailed)
	assert.ErrorIs(t, err, cause)

	log.AssertCalled(t, "Merge", mock.Anything, "r1", messageID,
		messagelog.Patch{Reactions: map[string]string{userA.String(): "👍"}})
}

func TestReactValidatesInput(t *testing.T) {
	log := &failingLog{}
	m := NewMerger(log, DefaultPalette)
	ctx := context.Background()

	assert.ErrorIs(t, m.React(ctx, "r1", uuid.New(), userA, ""), ErrInvalidEmoji)
	assert.ErrorIs(t, m.React(ctx, "r1", uuid.New(), userA, "  "), ErrInvalidEmoji)
	assert.ErrorIs(t, m.React(ctx, "r1", uuid.New(), userA, "🦄"), ErrInvalidEmoji)
	assert.ErrorIs(t, m.React(ctx, "r1", uuid.New(), uuid.Nil, "👍"), ErrInvalidUser)

	log.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPalette(t *testing.T) {
	assert.Nil(t, NewMerger(nil, nil).Palette())
	assert.Equal(t, DefaultPalette, NewMerger(nil, DefaultPalette).Palette())
	assert.Equal(t, []string{"👍", "🦄"}, NewMerger(nil, []string{"🦄", "👍"}).Palette())
}

func TestUnpackSortsByUser(t *testing.T) {
	r := models.Reactions{"c": "😀", "a": "👍", "b": "😀"}
	assert.Equal(t, []Entry{
		{UserID: "a", Emoji: "👍"},
		{UserID: "b", Emoji: "😀"},
		{UserID: "c", Emoji: "😀"},
	}, Unpack(r))

	assert.Empty(t, Unpack(nil))
	assert.NotNil(t, Unpack(nil))
}

func TestGroupByEmoji(t *testing.T) {
	r := models.Reactions{"c": "😀", "a": "👍", "b": "😀", "d": "❤️"}
	groups := GroupByEmoji(r)

	require.Len(t, groups, 3)
	assert.Equal(t, Group{Emoji: "😀", Count: 2, Users: []string{"b", "c"}}, groups[0])
	assert.Equal(t, 1, groups[1].Count)
	assert.Equal(t, 1, groups[2].Count)
	assert.Less(t, groups[1].Emoji, groups[2].Emoji)
}
