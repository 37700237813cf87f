package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"social-events/internal/models"
	"social-events/internal/repositories"
)

// Broadcaster pushes REST mutations to the rooms of connected clients.
type Broadcaster interface {
	BroadcastEdited(msg models.Message) int
	BroadcastDeleted(chatID, messageID int64) int
}

// ChatHandler is the REST fallback for chat history and message mutation.
type ChatHandler struct {
	chatRepo     repositories.ChatRepository
	messageRepo  repositories.MessageRepository
	broadcaster  Broadcaster
	maxBodyRunes int
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, broadcaster Broadcaster, maxBodyRunes int) *ChatHandler {
	if maxBodyRunes <= 0 {
		maxBodyRunes = 4000
	}
	return &ChatHandler{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		broadcaster:  broadcaster,
		maxBodyRunes: maxBodyRunes,
	}
}

// GetChat returns participants and full message history for a chat the
// caller belongs to.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := parseIDParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	userID := userIDFromContext(c)
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	participants, err := h.chatRepo.ListParticipants(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	msgs, err := h.messageRepo.ListByChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if participants == nil {
		participants = []models.ChatParticipant{}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, models.ChatHistory{ChatID: chatID, Participants: participants, Messages: msgs})
}

// UpdateMessage edits a message sent by the caller and notifies the room.
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	messageID, ok := parseIDParam(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
		return
	}
	if utf8.RuneCountInString(req.Body) > h.maxBodyRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is too long"})
		return
	}

	existing, ok := h.ownedMessage(c, messageID)
	if !ok {
		return
	}

	msg, err := h.messageRepo.UpdateMessage(c.Request.Context(), existing.ChatID, messageID, existing.SenderID, req.Body)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message"})
		return
	}

	h.broadcaster.BroadcastEdited(msg)
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage hard-deletes a message sent by the caller and notifies the room.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseIDParam(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	existing, ok := h.ownedMessage(c, messageID)
	if !ok {
		return
	}

	deleted, err := h.messageRepo.DeleteMessage(c.Request.Context(), existing.ChatID, messageID, existing.SenderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	h.broadcaster.BroadcastDeleted(existing.ChatID, messageID)
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) ownedMessage(c *gin.Context, messageID int64) (models.Message, bool) {
	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return models.Message{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message"})
		return models.Message{}, false
	}
	if msg.SenderID != userIDFromContext(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can change this message"})
		return models.Message{}, false
	}
	return msg, true
}
