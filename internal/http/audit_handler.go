package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/audit"
	"carpool/internal/modules/order"
	"carpool/internal/types"
)

type AuditHandler struct {
	store *audit.Store
}

func NewAuditHandler(store *audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

type auditEntryDTO struct {
	ActorID   string    `json:"actorId"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListForOrder returns an order's full audit trail. Admin only.
func (h *AuditHandler) ListForOrder(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok || actor.Role != types.RoleAdmin {
		Fail(c, order.ErrForbidden)
		return
	}
	entries, err := h.store.ListByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]auditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = auditEntryDTO{
			ActorID:   e.ActorID,
			Role:      e.Role,
			Action:    e.Action,
			From:      e.From,
			To:        e.To,
			Success:   e.Success,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		}
	}
	OK(c, out)
}
