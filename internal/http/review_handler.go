package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/order"
	"carpool/internal/modules/review"
	"carpool/internal/types"
)

type ReviewHandler struct {
	svc *review.Service
}

func NewReviewHandler(svc *review.Service) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

type reviewDTO struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	ReviewerID  string    `json:"reviewerId,omitempty"`
	RevieweeID  string    `json:"revieweeId"`
	Type        string    `json:"type"`
	Rating      int       `json:"rating"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"isAnonymous"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toReviewDTO(r *review.Review) reviewDTO {
	dto := reviewDTO{
		ID:          string(r.ID),
		OrderID:     string(r.OrderID),
		ReviewerID:  string(r.ReviewerID),
		RevieweeID:  string(r.RevieweeID),
		Type:        string(r.Type),
		Rating:      r.Rating,
		Content:     r.Content,
		IsAnonymous: r.IsAnonymous,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
	}
	if r.IsAnonymous {
		dto.ReviewerID = ""
	}
	return dto
}

// Rate files a review for an order.
func (h *ReviewHandler) Rate(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var req struct {
		Rating      int    `json:"rating" binding:"required"`
		Content     string `json:"content"`
		IsAnonymous bool   `json:"isAnonymous"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, review.ErrBadRequest)
		return
	}
	r, err := h.svc.Create(c.Request.Context(), review.CreateCommand{
		Actor:       actor,
		OrderID:     types.ID(c.Param("id")),
		Rating:      req.Rating,
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, toReviewDTO(r))
}

// ListForUser returns published reviews about a user.
func (h *ReviewHandler) ListForUser(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		Fail(c, review.ErrBadRequest)
		return
	}
	items, err := h.svc.ListPublic(c.Request.Context(), types.ID(c.Param("id")), query.Limit)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]reviewDTO, len(items))
	for i, r := range items {
		out[i] = toReviewDTO(r)
	}
	OK(c, out)
}

// ListPending returns the moderation queue.
func (h *ReviewHandler) ListPending(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, review.ErrForbidden)
		return
	}
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		Fail(c, review.ErrBadRequest)
		return
	}
	items, err := h.svc.ListPending(c.Request.Context(), actor, query.Limit)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]reviewDTO, len(items))
	for i, r := range items {
		out[i] = toReviewDTO(r)
	}
	OK(c, out)
}

// Resolve settles a review held for moderation.
func (h *ReviewHandler) Resolve(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, review.ErrForbidden)
		return
	}
	var req struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, review.ErrBadRequest)
		return
	}
	r, err := h.svc.Resolve(c.Request.Context(), review.ResolveCommand{
		Actor:    actor,
		ReviewID: types.ID(c.Param("id")),
		Approve:  req.Approve,
		Reason:   req.Reason,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toReviewDTO(r))
}
