package http

import (
	"github.com/gin-gonic/gin"

	"carpool/internal/modules/driver"
	"carpool/internal/modules/order"
	"carpool/internal/modules/pool"
	"carpool/internal/types"
)

type DriverHandler struct {
	store *driver.Store
	pool  *pool.Store
}

func NewDriverHandler(store *driver.Store, poolStore *pool.Store) *DriverHandler {
	return &DriverHandler{store: store, pool: poolStore}
}

type driverDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TotalSeats     int    `json:"totalSeats"`
	AvailableSeats int    `json:"availableSeats"`
}

// Me returns the calling driver's profile and seat ledger.
func (h *DriverHandler) Me(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok || actor.Role != types.RoleDriver {
		Fail(c, order.ErrForbidden)
		return
	}
	d, err := h.store.Get(c.Request.Context(), actor.ID)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, driverDTO{
		ID:             string(d.ID),
		Name:           d.Name,
		TotalSeats:     d.TotalSeats,
		AvailableSeats: d.AvailableSeats,
	})
}

// Online lists currently connected drivers. Admin only.
func (h *DriverHandler) Online(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok || actor.Role != types.RoleAdmin {
		Fail(c, order.ErrForbidden)
		return
	}
	ids, err := h.pool.OnlineDrivers(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	OK(c, out)
}
