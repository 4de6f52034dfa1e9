package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/notification"
	"carpool/internal/modules/order"
	"carpool/internal/types"
)

type NotificationHandler struct {
	svc *notification.Service
}

func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type notificationDTO struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	OrderID   string    `json:"orderId,omitempty"`
	TripID    string    `json:"tripId,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var query struct {
		Unread bool `form:"unread"`
		Limit  int  `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	items, err := h.svc.List(c.Request.Context(), actor.ID, query.Unread, query.Limit)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]notificationDTO, len(items))
	for i, n := range items {
		out[i] = notificationDTO{
			ID:        string(n.ID),
			Event:     n.Event,
			Title:     n.Title,
			Body:      n.Body,
			OrderID:   string(n.OrderID),
			TripID:    string(n.TripID),
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		}
	}
	OK(c, out)
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), actor.ID, types.ID(c.Param("id"))); err != nil {
		Fail(c, err)
		return
	}
	OK(c, nil)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	if err := h.svc.MarkAllRead(c.Request.Context(), actor.ID); err != nil {
		Fail(c, err)
		return
	}
	OK(c, nil)
}
