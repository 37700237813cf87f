package models

import (
	"fmt"
	"time"
)

// Action enumerates what a notification refers to.
type Action string

const (
	ActionFollowRequested  Action = "follow-requested"
	ActionFollowAccepted   Action = "follow-accepted"
	ActionFollowRejected   Action = "follow-rejected"
	ActionMentionInPost    Action = "mention-in-post"
	ActionMentionInComment Action = "mention-in-comment"
	ActionMessageReceived  Action = "message-received"
)

// Valid reports whether the action is one the pipeline knows about.
func (a Action) Valid() bool {
	switch a {
	case ActionFollowRequested, ActionFollowAccepted, ActionFollowRejected,
		ActionMentionInPost, ActionMentionInComment, ActionMessageReceived:
		return true
	}
	return false
}

// NotificationEvent is the payload carried by the notification queue.
type NotificationEvent struct {
	RecipientID int64  `json:"recipientId"`
	SenderID    int64  `json:"senderId"`
	Action      Action `json:"action"`
	TargetID    int64  `json:"targetId"`
}

// Validate checks the fields every consumer relies on.
func (e NotificationEvent) Validate() error {
	if e.RecipientID <= 0 {
		return fmt.Errorf("invalid recipient id %d", e.RecipientID)
	}
	if e.SenderID <= 0 {
		return fmt.Errorf("invalid sender id %d", e.SenderID)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.TargetID <= 0 {
		return fmt.Errorf("invalid target id %d", e.TargetID)
	}
	return nil
}

// Notification is the per-recipient row written by the consumer.
type Notification struct {
	ID          int64     `db:"id" json:"id"`
	RecipientID int64     `db:"recipient_id" json:"recipientId"`
	SenderID    int64     `db:"sender_id" json:"senderId"`
	Action      Action    `db:"action" json:"action"`
	TargetID    int64     `db:"target_id" json:"targetId"`
	IsRead      bool      `db:"is_read" json:"isRead"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
