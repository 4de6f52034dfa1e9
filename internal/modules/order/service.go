// README: Order lifecycle service. Every operation runs the same pipeline:
// authorize, validate against the transition graph, mutate through one store
// transaction, audit, notify.
package order

import (
	"context"
	"errors"
	"time"

	"carpool/internal/logger"
	"carpool/internal/types"
)

var (
	ErrBadRequest   = errors.New("invalid request")
	ErrForbidden    = errors.New("operation not allowed for caller")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state changed concurrently")
	ErrNoSeats      = errors.New("driver has insufficient seats")
	ErrRefundFailed = errors.New("refund service unavailable")
	ErrActiveOrder  = errors.New("passenger already has an active order")
)

// Notification event names pushed over the gateway.
const (
	EventNewOrder       = "newOrder"
	EventOrderRemoved   = "orderRemoved"
	EventOrderMatched   = "orderMatched"
	EventOrderConfirmed = "orderConfirmed"
	EventOrderCompleted = "orderCompleted"
	EventOrderCancelled = "orderCancelled"
	EventPaymentUpdated = "paymentUpdated"
)

// Broadcast groups joined on connect: every online driver, every online admin.
const (
	GroupDrivers = "drivers"
	GroupAdmins  = "admins"
)

// SystemActorID marks mutations performed by background jobs in the audit log.
const SystemActorID types.ID = "system"

// Notice is a single-recipient notification emitted by a lifecycle operation.
type Notice struct {
	Recipient types.ID
	Event     string
	Title     string
	Body      string
	OrderID   types.ID
	TripID    types.ID
}

// Notifier persists and pushes notifications. Failures are the notifier's
// problem; lifecycle outcomes never depend on it.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
	Broadcast(ctx context.Context, group, event string, orderID types.ID)
}

// Refunder is the external payment collaborator consulted before an order may
// move to refunded.
type Refunder interface {
	Refund(ctx context.Context, orderID types.ID, amount float64) error
}

// AuditRecord is one attempted mutation, successful or not.
type AuditRecord struct {
	ActorID types.ID
	Role    types.Role
	OrderID types.ID
	Action  Action
	From    Status
	To      Status
	Success bool
	Message string
}

type Auditor interface {
	Append(ctx context.Context, r AuditRecord)
}

type Service struct {
	store    *Store
	auditor  Auditor
	notifier Notifier
	refunder Refunder
	log      logger.ILogger
}

func NewService(store *Store, auditor Auditor, notifier Notifier, refunder Refunder, log logger.ILogger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, auditor: auditor, notifier: notifier, refunder: refunder, log: log}
}

type CreateCommand struct {
	Actor         Actor
	SeatCount     int
	TotalPrice    float64
	StartAddress  string
	EndAddress    string
	StartPoint    types.Point
	EndPoint      types.Point
	StartTime     time.Time
	EstimatedMins int
	DistanceKm    float64
}

// Create validates and persists a new pending order. A passenger may hold at
// most one non-terminal order at a time.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := Authorize(ActionCreate, cmd.Actor, nil); err != nil {
		return nil, err
	}
	if cmd.SeatCount < MinSeats || cmd.SeatCount > MaxSeats {
		return nil, ErrBadRequest
	}
	if cmd.TotalPrice < 0 || cmd.StartAddress == "" || cmd.EndAddress == "" || cmd.StartTime.IsZero() {
		return nil, ErrBadRequest
	}
	active, err := s.store.ActiveByPassenger(ctx, cmd.Actor.ID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, ErrActiveOrder
	}

	o := &Order{
		PassengerID:   cmd.Actor.ID,
		SeatCount:     cmd.SeatCount,
		TotalPrice:    cmd.TotalPrice,
		StartAddress:  cmd.StartAddress,
		EndAddress:    cmd.EndAddress,
		StartPoint:    cmd.StartPoint,
		EndPoint:      cmd.EndPoint,
		StartTime:     cmd.StartTime,
		EstimatedMins: cmd.EstimatedMins,
		DistanceKm:    cmd.DistanceKm,
	}
	if err := s.store.Create(ctx, o); err != nil {
		s.audit(ctx, cmd.Actor, "", ActionCreate, "", StatusPending, err)
		return nil, err
	}
	s.audit(ctx, cmd.Actor, o.ID, ActionCreate, "", StatusPending, nil)

	s.notify(ctx, Notice{
		Recipient: o.PassengerID,
		Event:     EventNewOrder,
		Title:     "Order created",
		Body:      "Your order " + o.OrderNumber + " is waiting for a driver.",
		OrderID:   o.ID,
	})
	s.broadcast(ctx, GroupDrivers, EventNewOrder, o.ID)
	s.broadcast(ctx, GroupAdmins, EventNewOrder, o.ID)
	return o, nil
}

// Get returns a single order visible to the caller.
func (s *Service) Get(ctx context.Context, actor Actor, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionView, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetTrip returns the trip bound to an order, subject to the same visibility
// rule as the order itself.
func (s *Service) GetTrip(ctx context.Context, actor Actor, orderID types.ID) (*Trip, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.GetTripByOrder(ctx, orderID)
}

// List returns orders scoped to the caller's role: passengers and drivers see
// their own, admins see everything.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]*Order, error) {
	switch actor.Role {
	case types.RolePassenger:
		f.PassengerID = actor.ID
		f.DriverID = ""
	case types.RoleDriver:
		f.DriverID = actor.ID
		f.PassengerID = ""
	case types.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	return s.store.List(ctx, f)
}

type AcceptCommand struct {
	Actor   Actor
	OrderID types.ID
}

// Accept claims a pending order for the calling driver, creating the bound
// trip and reserving seats from the driver's ledger. Losing a race with
// another driver or a cancellation surfaces as ErrConflict.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Trip, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionMatch, cmd.Actor, o); err != nil {
		s.audit(ctx, cmd.Actor, o.ID, ActionMatch, o.Status, StatusMatched, err)
		return nil, err
	}
	if !CanTransition(o.Status, StatusMatched) {
		s.audit(ctx, cmd.Actor, o.ID, ActionMatch, o.Status, StatusMatched, ErrConflict)
		return nil, ErrConflict
	}

	trip, err := s.store.Accept(ctx, AcceptParams{
		OrderID:       o.ID,
		DriverID:      cmd.Actor.ID,
		Seats:         o.SeatCount,
		Price:         o.TotalPrice,
		StartAddress:  o.StartAddress,
		EndAddress:    o.EndAddress,
		StartPoint:    o.StartPoint,
		EndPoint:      o.EndPoint,
		EstimatedMins: o.EstimatedMins,
		DistanceKm:    o.DistanceKm,
	})
	s.audit(ctx, cmd.Actor, o.ID, ActionMatch, o.Status, StatusMatched, err)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, Notice{
		Recipient: o.PassengerID,
		Event:     EventOrderMatched,
		Title:     "Driver found",
		Body:      "A driver accepted your order " + o.OrderNumber + ".",
		OrderID:   o.ID,
		TripID:    trip.ID,
	})
	// The order left the pool; tell the other drivers to drop it.
	s.broadcast(ctx, GroupDrivers, EventOrderRemoved, o.ID)
	return trip, nil
}

type LifecycleCommand struct {
	Actor   Actor
	OrderID types.ID
}

// Confirm starts the trip for a matched order.
func (s *Service) Confirm(ctx context.Context, cmd LifecycleCommand) (*Trip, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionConfirm, cmd.Actor, o); err != nil {
		s.audit(ctx, cmd.Actor, o.ID, ActionConfirm, o.Status, StatusConfirmed, err)
		return nil, err
	}
	if !CanTransition(o.Status, StatusConfirmed) {
		s.audit(ctx, cmd.Actor, o.ID, ActionConfirm, o.Status, StatusConfirmed, ErrConflict)
		return nil, ErrConflict
	}
	trip, err := s.store.Confirm(ctx, o.ID)
	s.audit(ctx, cmd.Actor, o.ID, ActionConfirm, o.Status, StatusConfirmed, err)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notice{
		Recipient: o.PassengerID,
		Event:     EventOrderConfirmed,
		Title:     "Trip started",
		Body:      "Your trip " + trip.TripNumber + " is underway.",
		OrderID:   o.ID,
		TripID:    trip.ID,
	})
	return trip, nil
}

// Complete finishes the trip, restores the driver's seats and leaves the
// order awaiting payment.
func (s *Service) Complete(ctx context.Context, cmd LifecycleCommand) (*Trip, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionComplete, cmd.Actor, o); err != nil {
		s.audit(ctx, cmd.Actor, o.ID, ActionComplete, o.Status, StatusCompleted, err)
		return nil, err
	}
	if !CanTransition(o.Status, StatusCompleted) {
		s.audit(ctx, cmd.Actor, o.ID, ActionComplete, o.Status, StatusCompleted, ErrConflict)
		return nil, ErrConflict
	}
	trip, err := s.store.Complete(ctx, o.ID)
	s.audit(ctx, cmd.Actor, o.ID, ActionComplete, o.Status, StatusCompleted, err)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notice{
		Recipient: o.PassengerID,
		Event:     EventOrderCompleted,
		Title:     "Trip completed",
		Body:      "Trip " + trip.TripNumber + " finished. Please complete payment.",
		OrderID:   o.ID,
		TripID:    trip.ID,
	})
	return trip, nil
}

type CancelCommand struct {
	Actor   Actor
	OrderID types.ID
	Reason  string
}

// Cancel moves a non-terminal order to cancelled. A reason is mandatory for
// every caller, admins included.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if cmd.Reason == "" {
		return nil, ErrBadRequest
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionCancel, cmd.Actor, o); err != nil {
		s.audit(ctx, cmd.Actor, o.ID, ActionCancel, o.Status, StatusCancelled, err)
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		s.audit(ctx, cmd.Actor, o.ID, ActionCancel, o.Status, StatusCancelled, ErrConflict)
		return nil, ErrConflict
	}

	wasPending := o.Status == StatusPending
	_, err = s.store.Cancel(ctx, o.ID, cmd.Reason,
		[]Status{StatusPending, StatusMatched, StatusConfirmed})
	s.audit(ctx, cmd.Actor, o.ID, ActionCancel, o.Status, StatusCancelled, err)
	if err != nil {
		return nil, err
	}

	if o.DriverID != nil {
		s.notify(ctx, Notice{
			Recipient: *o.DriverID,
			Event:     EventOrderCancelled,
			Title:     "Order cancelled",
			Body:      "Order " + o.OrderNumber + " was cancelled: " + cmd.Reason,
			OrderID:   o.ID,
		})
	}
	if cmd.Actor.ID != o.PassengerID {
		s.notify(ctx, Notice{
			Recipient: o.PassengerID,
			Event:     EventOrderCancelled,
			Title:     "Order cancelled",
			Body:      "Order " + o.OrderNumber + " was cancelled: " + cmd.Reason,
			OrderID:   o.ID,
		})
	}
	if wasPending {
		s.broadcast(ctx, GroupDrivers, EventOrderRemoved, o.ID)
	}
	return s.store.Get(ctx, o.ID)
}

type PayCommand struct {
	Actor   Actor
	OrderID types.ID
	To      PaymentStatus
}

// Pay advances the payment status. Moving to refunded consults the external
// refund collaborator first; if it fails, nothing changes.
func (s *Service) Pay(ctx context.Context, cmd PayCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionPay, cmd.Actor, o); err != nil {
		s.audit(ctx, cmd.Actor, o.ID, ActionPay, o.Status, o.Status, err)
		return nil, err
	}
	if !CanPay(o.Status, o.PaymentStatus, cmd.To) {
		s.audit(ctx, cmd.Actor, o.ID, ActionPay, o.Status, o.Status, ErrConflict)
		return nil, ErrConflict
	}

	switch cmd.To {
	case PaymentPaid:
		_, err = s.store.SetPaid(ctx, o.ID)
	case PaymentRefunded:
		if s.refunder == nil {
			return nil, ErrRefundFailed
		}
		if rerr := s.refunder.Refund(ctx, o.ID, o.TotalPrice); rerr != nil {
			s.log.Warning("refund rejected by payment service",
				logger.String("order_id", string(o.ID)), logger.Error(rerr))
			s.audit(ctx, cmd.Actor, o.ID, ActionPay, o.Status, o.Status, ErrRefundFailed)
			return nil, ErrRefundFailed
		}
		_, err = s.store.SetRefunded(ctx, o.ID)
	}
	s.audit(ctx, cmd.Actor, o.ID, ActionPay, o.Status, o.Status, err)
	if err != nil {
		return nil, err
	}

	if o.DriverID != nil {
		s.notify(ctx, Notice{
			Recipient: *o.DriverID,
			Event:     EventPaymentUpdated,
			Title:     "Payment " + string(cmd.To),
			Body:      "Order " + o.OrderNumber + " is now " + string(cmd.To) + ".",
			OrderID:   o.ID,
		})
	}
	return s.store.Get(ctx, o.ID)
}

// DriverTasks returns the driver's workload: assigned orders plus pending
// pool orders that fit the driver's free seats.
func (s *Service) DriverTasks(ctx context.Context, actor Actor) ([]*Order, error) {
	if actor.Role != types.RoleDriver {
		return nil, ErrForbidden
	}
	return s.store.DriverTasks(ctx, actor.ID)
}

// PassengerActive returns the passenger's current non-terminal orders. More
// than one is an invariant breach; it is logged and still returned so the
// caller can see the state.
func (s *Service) PassengerActive(ctx context.Context, actor Actor) ([]*Order, error) {
	if actor.Role != types.RolePassenger {
		return nil, ErrForbidden
	}
	active, err := s.store.ActiveByPassenger(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(active) > 1 {
		s.log.Warning("passenger holds multiple active orders",
			logger.String("passenger_id", string(actor.ID)), logger.Int("count", len(active)))
	}
	return active, nil
}

// ExpireStale force-cancels orders stuck in matched longer than threshold.
// Each cancel goes through the same conditional update as user cancels, so a
// confirm landing first always wins and the sweep skips that order.
func (s *Service) ExpireStale(ctx context.Context, threshold time.Duration) (int, error) {
	stale, err := s.store.ListStaleMatched(ctx, time.Now().Add(-threshold))
	if err != nil {
		return 0, err
	}
	actor := Actor{ID: SystemActorID, Role: types.RoleAdmin}
	expired := 0
	for _, o := range stale {
		_, err := s.store.Cancel(ctx, o.ID, "match confirmation timed out", []Status{StatusMatched})
		s.audit(ctx, actor, o.ID, ActionCancel, StatusMatched, StatusCancelled, err)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			s.log.Error("expire sweep cancel failed",
				logger.String("order_id", string(o.ID)), logger.Error(err))
			continue
		}
		expired++
		s.notify(ctx, Notice{
			Recipient: o.PassengerID,
			Event:     EventOrderCancelled,
			Title:     "Order expired",
			Body:      "Order " + o.OrderNumber + " was cancelled: driver did not confirm in time.",
			OrderID:   o.ID,
		})
		if o.DriverID != nil {
			s.notify(ctx, Notice{
				Recipient: *o.DriverID,
				Event:     EventOrderCancelled,
				Title:     "Order expired",
				Body:      "Order " + o.OrderNumber + " was cancelled: confirmation window elapsed.",
				OrderID:   o.ID,
			})
		}
	}
	return expired, nil
}

func (s *Service) audit(ctx context.Context, actor Actor, orderID types.ID, action Action, from, to Status, outcome error) {
	if s.auditor == nil {
		return
	}
	r := AuditRecord{
		ActorID: actor.ID,
		Role:    actor.Role,
		OrderID: orderID,
		Action:  action,
		From:    from,
		To:      to,
		Success: outcome == nil,
	}
	if outcome != nil {
		r.Message = outcome.Error()
	}
	s.auditor.Append(ctx, r)
}

func (s *Service) notify(ctx context.Context, n Notice) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, n)
}

func (s *Service) broadcast(ctx context.Context, group, event string, orderID types.ID) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(ctx, group, event, orderID)
}
