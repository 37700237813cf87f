package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"social-events/internal/models"
)

// ChatRepository answers membership questions for chats.
type ChatRepository interface {
	IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error)
	ListParticipants(ctx context.Context, chatID int64) ([]models.ChatParticipant, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// IsParticipant checks whether a ChatParticipant row exists for the pair.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// ListParticipants returns the participants of a chat in join order.
func (r *ChatRepo) ListParticipants(ctx context.Context, chatID int64) ([]models.ChatParticipant, error) {
	participants := []models.ChatParticipant{}
	err := r.db.SelectContext(ctx, &participants, `SELECT chat_id, user_id, joined_at FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at ASC, user_id ASC`, chatID)
	return participants, err
}
