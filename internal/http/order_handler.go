// README: Order endpoints. Handlers bind, call the service, translate; all
// policy lives below.
package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/auth"
	"carpool/internal/modules/order"
	"carpool/internal/types"
)

// actorFrom converts the authenticated identity into a lifecycle actor.
func actorFrom(c *gin.Context) (order.Actor, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		return order.Actor{}, false
	}
	return order.Actor{ID: id.UserID, Role: id.Role}, true
}

type OrderHandler struct {
	svc *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type pointDTO struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type createOrderRequest struct {
	SeatCount     int      `json:"seatCount" binding:"required"`
	TotalPrice    float64  `json:"totalPrice"`
	StartAddress  string   `json:"startAddress" binding:"required"`
	EndAddress    string   `json:"endAddress" binding:"required"`
	StartPoint    pointDTO `json:"startPoint"`
	EndPoint      pointDTO `json:"endPoint"`
	StartTime     string   `json:"startTime" binding:"required"`
	EstimatedMins int      `json:"estimatedMins"`
	DistanceKm    float64  `json:"distanceKm"`
}

type orderDTO struct {
	ID            string     `json:"id"`
	OrderNumber   string     `json:"orderNumber"`
	PassengerID   string     `json:"passengerId"`
	DriverID      *string    `json:"driverId,omitempty"`
	TripID        *string    `json:"tripId,omitempty"`
	Status        string     `json:"status"`
	SeatCount     int        `json:"seatCount"`
	TotalPrice    float64    `json:"totalPrice"`
	PaymentStatus string     `json:"paymentStatus"`
	PaymentTime   *time.Time `json:"paymentTime,omitempty"`
	CancelReason  *string    `json:"cancelReason,omitempty"`
	StartAddress  string     `json:"startAddress"`
	EndAddress    string     `json:"endAddress"`
	StartPoint    pointDTO   `json:"startPoint"`
	EndPoint      pointDTO   `json:"endPoint"`
	StartTime     time.Time  `json:"startTime"`
	EstimatedMins int        `json:"estimatedMins"`
	DistanceKm    float64    `json:"distanceKm"`
	CreatedAt     time.Time  `json:"createdAt"`
	MatchedAt     *time.Time `json:"matchedAt,omitempty"`
}

type tripDTO struct {
	ID           string     `json:"id"`
	TripNumber   string     `json:"tripNumber"`
	OrderID      string     `json:"orderId"`
	DriverID     string     `json:"driverId"`
	PassengerID  string     `json:"passengerId"`
	Seats        int        `json:"seats"`
	Price        float64    `json:"price"`
	Status       string     `json:"status"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	CanceledTime *time.Time `json:"canceledTime,omitempty"`
}

func toOrderDTO(o *order.Order) orderDTO {
	dto := orderDTO{
		ID:            string(o.ID),
		OrderNumber:   o.OrderNumber,
		PassengerID:   string(o.PassengerID),
		Status:        string(o.Status),
		SeatCount:     o.SeatCount,
		TotalPrice:    o.TotalPrice,
		PaymentStatus: string(o.PaymentStatus),
		PaymentTime:   o.PaymentTime,
		CancelReason:  o.CancelReason,
		StartAddress:  o.StartAddress,
		EndAddress:    o.EndAddress,
		StartPoint:    pointDTO{Lng: o.StartPoint.Lng, Lat: o.StartPoint.Lat},
		EndPoint:      pointDTO{Lng: o.EndPoint.Lng, Lat: o.EndPoint.Lat},
		StartTime:     o.StartTime,
		EstimatedMins: o.EstimatedMins,
		DistanceKm:    o.DistanceKm,
		CreatedAt:     o.CreatedAt,
		MatchedAt:     o.MatchedAt,
	}
	if o.DriverID != nil {
		s := string(*o.DriverID)
		dto.DriverID = &s
	}
	if o.TripID != nil {
		s := string(*o.TripID)
		dto.TripID = &s
	}
	return dto
}

func toOrderDTOs(orders []*order.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i, o := range orders {
		out[i] = toOrderDTO(o)
	}
	return out
}

func toTripDTO(t *order.Trip) tripDTO {
	return tripDTO{
		ID:           string(t.ID),
		TripNumber:   t.TripNumber,
		OrderID:      string(t.OrderID),
		DriverID:     string(t.DriverID),
		PassengerID:  string(t.PassengerID),
		Seats:        t.Seats,
		Price:        t.Price,
		Status:       string(t.Status),
		StartTime:    t.StartTime,
		EndTime:      t.EndTime,
		CanceledTime: t.CanceledTime,
	}
}

func (h *OrderHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	o, err := h.svc.Create(c.Request.Context(), order.CreateCommand{
		Actor:         actor,
		SeatCount:     req.SeatCount,
		TotalPrice:    req.TotalPrice,
		StartAddress:  req.StartAddress,
		EndAddress:    req.EndAddress,
		StartPoint:    types.Point{Lng: req.StartPoint.Lng, Lat: req.StartPoint.Lat},
		EndPoint:      types.Point{Lng: req.EndPoint.Lng, Lat: req.EndPoint.Lat},
		StartTime:     startTime,
		EstimatedMins: req.EstimatedMins,
		DistanceKm:    req.DistanceKm,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, toOrderDTO(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	o, err := h.svc.Get(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTO(o))
}

func (h *OrderHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var query struct {
		Status string `form:"status"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	orders, err := h.svc.List(c.Request.Context(), actor, order.ListFilter{
		Status: order.Status(query.Status),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTOs(orders))
}

// Match lets a driver claim a pending order.
func (h *OrderHandler) Match(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	trip, err := h.svc.Accept(c.Request.Context(), order.AcceptCommand{
		Actor:   actor,
		OrderID: types.ID(c.Param("id")),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toTripDTO(trip))
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	h.lifecycle(c, h.svc.Confirm)
}

func (h *OrderHandler) Complete(c *gin.Context) {
	h.lifecycle(c, h.svc.Complete)
}

func (h *OrderHandler) lifecycle(c *gin.Context, op func(ctx context.Context, cmd order.LifecycleCommand) (*order.Trip, error)) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	trip, err := op(c.Request.Context(), order.LifecycleCommand{
		Actor:   actor,
		OrderID: types.ID(c.Param("id")),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toTripDTO(trip))
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	o, err := h.svc.Cancel(c.Request.Context(), order.CancelCommand{
		Actor:   actor,
		OrderID: types.ID(c.Param("id")),
		Reason:  req.Reason,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTO(o))
}

func (h *OrderHandler) Payment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	var req struct {
		PaymentStatus string `json:"paymentStatus" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, order.ErrBadRequest)
		return
	}
	to := order.PaymentStatus(req.PaymentStatus)
	if to != order.PaymentPaid && to != order.PaymentRefunded {
		Fail(c, order.ErrBadRequest)
		return
	}
	o, err := h.svc.Pay(c.Request.Context(), order.PayCommand{
		Actor:   actor,
		OrderID: types.ID(c.Param("id")),
		To:      to,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTO(o))
}

// DriverTasks returns assigned orders plus claimable pool orders.
func (h *OrderHandler) DriverTasks(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	orders, err := h.svc.DriverTasks(c.Request.Context(), actor)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTOs(orders))
}

// PassengerOrder returns the passenger's current active orders.
func (h *OrderHandler) PassengerOrder(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		Fail(c, order.ErrForbidden)
		return
	}
	orders, err := h.svc.PassengerActive(c.Request.Context(), actor)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, toOrderDTOs(orders))
}
