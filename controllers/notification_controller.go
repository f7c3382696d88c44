package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"request-routing-api/services"
)

type NotificationController struct {
	notifications *services.NotificationService
}

func NewNotificationController(notifications *services.NotificationService) *NotificationController {
	return &NotificationController{notifications: notifications}
}

func (nc *NotificationController) GetNotifications(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	unreadOnly := strings.TrimSpace(c.Query("unreadOnly"))
	limit, offset := parsePaging(c)

	items, total, err := nc.notifications.List(c.Request.Context(), uid,
		unreadOnly == "1" || strings.EqualFold(unreadOnly, "true"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (nc *NotificationController) GetNotificationCounter(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	n, err := nc.notifications.Counter(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (nc *NotificationController) MarkNotificationRead(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := nc.notifications.MarkRead(c.Request.Context(), uid, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (nc *NotificationController) MarkAllNotificationsRead(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	n, err := nc.notifications.MarkAllRead(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}
