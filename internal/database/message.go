package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// SaveMessage appends the record at the tail of its room. ID and Seq are
// assigned by the database and written back into message; CreatedAt is raised
// to the room's latest when it is earlier.
func (d *Database) SaveMessage(ctx context.Context, message *models.Message) error {
	if message.Reactions == nil {
		message.Reactions = models.Reactions{}
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Held until commit, so appends to one room get seq and created_at in
		// commit order.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", message.RoomID).Error; err != nil {
			return err
		}

		var last sql.NullTime
		if err := lastCreatedAt(tx, message.RoomID).Row().Scan(&last); err != nil {
			return err
		}
		if last.Valid {
			message.NotBefore(last.Time)
		}
		return tx.Create(message).Error
	})
}

func lastCreatedAt(tx *gorm.DB, roomID string) *gorm.DB {
	return tx.Model(&models.Message{}).
		Select("MAX(created_at)").
		Where("room_id = ?", roomID)
}

func (d *Database) GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := d.db.WithContext(ctx).
		Where("room_id = ? AND id = ?", roomID, id).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// GetRoomMessages returns the room in log order: created_at, then seq.
func (d *Database) GetRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var messages []models.Message

	err := d.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// MergeReactions writes only the given keys of the reactions column. Keys not
// named in the patch, and every other column, are left as they are.
func (d *Database) MergeReactions(ctx context.Context, roomID string, id uuid.UUID, patch map[string]string) error {
	if len(patch) == 0 {
		return nil
	}

	res := mergeReactions(d.db.WithContext(ctx), roomID, id, patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func mergeReactions(tx *gorm.DB, roomID string, id uuid.UUID, patch map[string]string) *gorm.DB {
	expr := datatypes.JSONSet("reactions")
	for userID, emoji := range patch {
		expr = expr.Set(reactionPath(userID), emoji)
	}
	return tx.Model(&models.Message{}).
		Where("room_id = ? AND id = ?", roomID, id).
		UpdateColumn("reactions", expr)
}

// reactionPath is a postgres text[] path literal addressing one key.
func reactionPath(key string) string {
	return "{" + strconv.Quote(key) + "}"
}
