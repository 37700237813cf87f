package models

import "time"

// Message represents a persisted chat message.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	ChatID     int64     `db:"chat_id" json:"chatId"`
	SenderID   int64     `db:"sender_id" json:"senderId"`
	ReceiverID *int64    `db:"receiver_id" json:"receiverId,omitempty"`
	Body       string    `db:"body" json:"body"`
	IsRead     bool      `db:"is_read" json:"isRead"`
	IsEdited   bool      `db:"is_edited" json:"isEdited"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// NewMessageEvent is the new_message payload. ClientID echoes the sender's
// correlation id so the sender can replace its optimistic entry.
type NewMessageEvent struct {
	Message
	ClientID string `json:"clientId,omitempty"`
}

// MessageEditedEvent is the message_edited payload.
type MessageEditedEvent struct {
	MessageID int64  `json:"messageId"`
	ChatID    int64  `json:"chatId"`
	NewBody   string `json:"newBody"`
}

// MessageDeletedEvent is the message_deleted payload.
type MessageDeletedEvent struct {
	MessageID int64 `json:"messageId"`
	ChatID    int64 `json:"chatId"`
}
