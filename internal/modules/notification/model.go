// README: Persisted per-user notifications.
package notification

import (
	"time"

	"carpool/internal/types"
)

// Notification is the durable inbox record. The websocket push is a
// best-effort extra; this row is what the user sees after reconnecting.
type Notification struct {
	ID          types.ID
	RecipientID types.ID
	Event       string
	Title       string
	Body        string
	OrderID     types.ID
	TripID      types.ID
	IsRead      bool
	CreatedAt   time.Time
}
