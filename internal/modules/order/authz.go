// README: Single authorization table for all lifecycle operations.
package order

import "carpool/internal/types"

type Action string

const (
	ActionCreate   Action = "create_order"
	ActionView     Action = "view_order"
	ActionMatch    Action = "match_order"
	ActionConfirm  Action = "confirm_order"
	ActionComplete Action = "complete_order"
	ActionCancel   Action = "cancel_order"
	ActionPay      Action = "update_payment"
	ActionRate     Action = "rate_order"
)

// ownership is the predicate an actor must satisfy against the order,
// in addition to holding an allowed role. Admins skip the predicate but
// never the state-transition graph.
type ownership int

const (
	ownAny ownership = iota
	ownPassenger
	ownDriver
	ownParticipant // bound passenger or bound driver
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   types.ID
	Role types.Role
}

// permissions is the one table every operation consults before mutating
// anything. Scattered per-handler role checks are deliberately absent.
var permissions = map[Action]map[types.Role]ownership{
	ActionCreate: {
		types.RolePassenger: ownAny,
	},
	ActionView: {
		types.RolePassenger: ownPassenger,
		types.RoleDriver:    ownDriver,
		types.RoleAdmin:     ownAny,
	},
	ActionMatch: {
		types.RoleDriver: ownAny, // claiming from the pool; retry-safety checked in store
		types.RoleAdmin:  ownAny,
	},
	ActionConfirm: {
		types.RoleDriver: ownDriver,
		types.RoleAdmin:  ownAny,
	},
	ActionComplete: {
		types.RoleDriver: ownDriver,
		types.RoleAdmin:  ownAny,
	},
	ActionCancel: {
		types.RolePassenger: ownPassenger,
		types.RoleAdmin:     ownAny,
	},
	ActionPay: {
		types.RolePassenger: ownPassenger,
		types.RoleAdmin:     ownAny,
	},
	ActionRate: {
		types.RolePassenger: ownPassenger,
		types.RoleDriver:    ownDriver,
	},
}

// Authorize decides whether actor may perform action on o. It never mutates
// anything and is evaluated exactly once, before validation.
func Authorize(action Action, actor Actor, o *Order) error {
	roles, ok := permissions[action]
	if !ok {
		return ErrForbidden
	}
	pred, ok := roles[actor.Role]
	if !ok {
		return ErrForbidden
	}
	if actor.Role == types.RoleAdmin {
		return nil
	}
	switch pred {
	case ownAny:
		return nil
	case ownPassenger:
		if o != nil && o.PassengerID == actor.ID {
			return nil
		}
	case ownDriver:
		if o != nil && o.DriverID != nil && *o.DriverID == actor.ID {
			return nil
		}
	case ownParticipant:
		if o != nil && (o.PassengerID == actor.ID || (o.DriverID != nil && *o.DriverID == actor.ID)) {
			return nil
		}
	}
	return ErrForbidden
}
