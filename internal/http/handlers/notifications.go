package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/notifications"
	"github.com/bradb345/t3test-sub001/internal/shared/apperr"
)

type NotificationsHandler struct {
	Svc *notifications.Service
}

func NewNotificationsHandler(svc *notifications.Service) *NotificationsHandler {
	return &NotificationsHandler{Svc: svc}
}

// GET /api/notifications?unread=1&limit=20&before=<rfc3339>
func (h *NotificationsHandler) List(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	opt := notifications.ListOptions{UnreadOnly: c.Query("unread") == "1" || c.Query("unread") == "true"}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			middleware.Fail(c, apperr.InvalidErr("Please check the request.", map[string]string{"limit": "Must be a positive integer."}))
			return
		}
		opt.Limit = n
	}
	if s := c.Query("before"); s != "" {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			middleware.Fail(c, apperr.InvalidErr("Please check the request.", map[string]string{"before": "Must be an RFC 3339 timestamp."}))
			return
		}
		opt.Before = &ts
	}

	ctx := c.Request.Context()
	items, err := h.Svc.List(ctx, u.ID, opt)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	unread, err := h.Svc.UnreadCount(ctx, u.ID)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}

	out := make([]gin.H, 0, len(items))
	for _, n := range items {
		out = append(out, gin.H{
			"id":         n.ID,
			"type":       n.Type,
			"message":    n.Message,
			"data":       n.Data,
			"read":       n.ReadAt != nil,
			"created_at": n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "unread": unread})
}

// POST /api/notifications/:id/read
func (h *NotificationsHandler) MarkRead(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	if err := h.Svc.MarkRead(c.Request.Context(), u.ID, c.Param("id")); err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.Status(http.StatusNoContent)
}
