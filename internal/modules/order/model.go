// README: Order/Trip aggregates, status graphs and the transition validator.
package order

import (
	"time"

	"carpool/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type TripStatus string

const (
	TripCreated   TripStatus = "created"
	TripOngoing   TripStatus = "ongoing"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Order is the passenger's ride request. driver_id and trip_id stay nil until
// the order has passed through matched; they are never cleared afterwards.
type Order struct {
	ID            types.ID
	OrderNumber   string
	PassengerID   types.ID
	DriverID      *types.ID
	TripID        *types.ID
	Status        Status
	SeatCount     int
	TotalPrice    float64
	PaymentStatus PaymentStatus
	PaymentTime   *time.Time
	CancelReason  *string
	StartAddress  string
	EndAddress    string
	StartPoint    types.Point
	EndPoint      types.Point
	StartTime     time.Time
	EstimatedMins int
	DistanceKm    float64
	CreatedAt     time.Time
	MatchedAt     *time.Time
	UpdatedAt     time.Time
}

// Trip is the bound execution record created when a driver accepts an order.
// Seats is captured at creation and is the exact amount restored to the
// driver's ledger on completion or cancellation, whatever happens to the
// order afterwards.
type Trip struct {
	ID            types.ID
	TripNumber    string
	OrderID       types.ID
	DriverID      types.ID
	PassengerID   types.ID
	Seats         int
	Price         float64
	Status        TripStatus
	StartAddress  string
	EndAddress    string
	StartPoint    types.Point
	EndPoint      types.Point
	EstimatedMins int
	DistanceKm    float64
	StartTime     *time.Time
	EndTime       *time.Time
	CanceledTime  *time.Time
	CreatedAt     time.Time
}

// AllowedTransitions represents the order state flow as code. Forward moves
// only, no skipping; completed and cancelled are terminal for every caller,
// admins included.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusMatched, StatusCancelled},
	StatusMatched:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is possible.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}

// CanPay validates payment status moves: unpaid→paid→refunded, never backward,
// and never paid before the order itself completed.
func CanPay(orderStatus Status, from, to PaymentStatus) bool {
	switch {
	case to == PaymentPaid:
		return from == PaymentUnpaid && orderStatus == StatusCompleted
	case to == PaymentRefunded:
		return from == PaymentPaid
	default:
		return false
	}
}

// tripTransitions mirrors the order graph on the trip side.
var tripTransitions = map[TripStatus][]TripStatus{
	TripCreated: {TripOngoing, TripCancelled},
	TripOngoing: {TripCompleted, TripCancelled},
}

func canTransitionTrip(from, to TripStatus) bool {
	for _, s := range tripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	MinSeats = 1
	MaxSeats = 4
)
