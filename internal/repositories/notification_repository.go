package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"social-events/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

const notificationColumns = `id, recipient_id, sender_id, action, target_id, is_read, created_at`

// NotificationRepository is the durable per-recipient notification store.
type NotificationRepository interface {
	Create(ctx context.Context, event models.NotificationEvent) (models.Notification, error)
	ListForRecipient(ctx context.Context, recipientID int64, unreadOnly bool) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, notificationID int64, recipientID int64) (models.Notification, error)
}

// NotificationRepo is a sqlx-backed NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Create inserts a notification for the event. Redelivered events produce
// duplicate rows; there is no idempotency key.
func (r *NotificationRepo) Create(ctx context.Context, event models.NotificationEvent) (models.Notification, error) {
	var n models.Notification
	err := r.db.GetContext(ctx, &n, `INSERT INTO notifications (recipient_id, sender_id, action, target_id) VALUES ($1, $2, $3, $4) RETURNING `+notificationColumns,
		event.RecipientID, event.SenderID, event.Action, event.TargetID)
	return n, err
}

// ListForRecipient returns notifications newest first.
func (r *NotificationRepo) ListForRecipient(ctx context.Context, recipientID int64, unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=$1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	list := []models.Notification{}
	err := r.db.SelectContext(ctx, &list, query, recipientID)
	return list, err
}

// CountUnread returns how many unread notifications a recipient has.
func (r *NotificationRepo) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND is_read = FALSE`, recipientID)
	return count, err
}

// MarkRead flips is_read for a notification owned by recipientID.
func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID int64, recipientID int64) (models.Notification, error) {
	var n models.Notification
	err := r.db.GetContext(ctx, &n, `UPDATE notifications SET is_read = TRUE WHERE id=$1 AND recipient_id=$2 RETURNING `+notificationColumns,
		notificationID, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	return n, err
}
