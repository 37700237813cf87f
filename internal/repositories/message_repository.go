package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"social-events/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, chat_id, sender_id, receiver_id, body, is_read, edited_at IS NOT NULL AS is_edited, created_at`

// MessageRepository persists chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID int64, senderID int64, receiverID *int64, body string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	UpdateMessage(ctx context.Context, chatID int64, messageID int64, senderID int64, body string) (models.Message, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int64, senderID int64) (bool, error)
	ListByChat(ctx context.Context, chatID int64) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns it with the server-assigned id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID int64, senderID int64, receiverID *int64, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, sender_id, receiver_id, body) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		chatID, senderID, receiverID, body)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessage replaces the body of a message owned by senderID in chatID.
// Concurrent edits are last-write-wins.
func (r *MessageRepo) UpdateMessage(ctx context.Context, chatID int64, messageID int64, senderID int64, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET body=$1, edited_at=NOW() WHERE id=$2 AND chat_id=$3 AND sender_id=$4 RETURNING `+messageColumns,
		body, messageID, chatID, senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage hard-deletes a message owned by senderID in chatID.
func (r *MessageRepo) DeleteMessage(ctx context.Context, chatID int64, messageID int64, senderID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND chat_id=$2 AND sender_id=$3`, messageID, chatID, senderID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByChat returns a chat's messages in ascending creation order.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID int64) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at ASC, id ASC`, chatID)
	return msgs, err
}
