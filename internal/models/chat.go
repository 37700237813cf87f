package models

import "time"

// Chat is the container that participants and messages hang off.
type Chat struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ChatParticipant is the authorization source of truth for room membership.
type ChatParticipant struct {
	ChatID   int64     `db:"chat_id" json:"chatId"`
	UserID   int64     `db:"user_id" json:"userId"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

// ChatHistory is the REST view used by clients to resync after missed broadcasts.
type ChatHistory struct {
	ChatID       int64             `json:"chatId"`
	Participants []ChatParticipant `json:"participants"`
	Messages     []Message         `json:"messages"`
}
