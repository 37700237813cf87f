package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"social-events/internal/models"
	"social-events/internal/repositories"
)

// NotificationHandler serves a recipient's stored notifications.
type NotificationHandler struct {
	repo repositories.NotificationRepository
}

func NewNotificationHandler(repo repositories.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// ListForUser returns the caller's notifications, newest first.
func (h *NotificationHandler) ListForUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if userID != userIDFromContext(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot read another user's notifications"})
		return
	}

	unreadOnly := c.Query("unread") == "true"
	list, err := h.repo.ListForRecipient(c.Request.Context(), userID, unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	unread, err := h.repo.CountUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count notifications"})
		return
	}
	if list == nil {
		list = []models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

// MarkRead flips is_read on one of the caller's notifications.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notificationID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	n, err := h.repo.MarkRead(c.Request.Context(), notificationID, userIDFromContext(c))
	if err != nil {
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
		return
	}

	c.JSON(http.StatusOK, n)
}
