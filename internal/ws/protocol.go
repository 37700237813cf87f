package ws

import (
	"encoding/json"

	"social-events/internal/models"
)

// Client to server event types.
const (
	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventSendMessage   = "send_message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
)

// Server to client event types.
const (
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventAck            = "ack"
	EventError          = "error"
)

// Error codes carried by error events.
const (
	CodeTransient = "transient"
	CodeRejected  = "rejected"
)

type ClientEnvelope struct {
	Type    string          `json:"type"`
	Ref     int64           `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type ServerEnvelope struct {
	Type    string `json:"type"`
	Ref     int64  `json:"ref,omitempty"`
	Payload any    `json:"payload"`
}

type RoomRequest struct {
	ChatID int64 `json:"chatId"`
}

type SendRequest struct {
	ChatID     int64  `json:"chatId"`
	Text       string `json:"text"`
	ReceiverID *int64 `json:"receiverId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

type EditRequest struct {
	MessageID int64  `json:"messageId"`
	NewBody   string `json:"newBody"`
	ChatID    int64  `json:"chatId"`
}

type DeleteRequest struct {
	MessageID int64 `json:"messageId"`
	ChatID    int64 `json:"chatId"`
}

type AckPayload struct {
	Event  string `json:"event"`
	ChatID int64  `json:"chatId,omitempty"`
	Joined bool   `json:"joined"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(eventType string, ref int64, payload any) []byte {
	data, _ := json.Marshal(ServerEnvelope{Type: eventType, Ref: ref, Payload: payload})
	return data
}

func newMessagePayload(msg models.Message, clientID string) []byte {
	return encode(EventNewMessage, 0, models.NewMessageEvent{Message: msg, ClientID: clientID})
}
