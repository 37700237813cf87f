package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"social-events/internal/models"
)

type Notifier interface {
	Publish(ctx context.Context, event models.NotificationEvent)
}

// EventsHandler accepts domain events raised by other services on behalf of
// the authenticated user.
type EventsHandler struct {
	notifier Notifier
}

func NewEventsHandler(notifier Notifier) *EventsHandler {
	return &EventsHandler{notifier: notifier}
}

// PublishNotification queues a notification from the caller. The response is
// 202 whether or not the queue is reachable.
func (h *EventsHandler) PublishNotification(c *gin.Context) {
	var req struct {
		RecipientID int64         `json:"recipientId" binding:"required"`
		Action      models.Action `json:"action" binding:"required"`
		TargetID    int64         `json:"targetId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := models.NotificationEvent{
		RecipientID: req.RecipientID,
		SenderID:    userIDFromContext(c),
		Action:      req.Action,
		TargetID:    req.TargetID,
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.notifier.Publish(c.Request.Context(), event)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
