// README: Driver profile and seat ledger.
package driver

import (
	"time"

	"carpool/internal/types"
)

// Driver carries the seat ledger. available_seats never goes negative and
// never exceeds total_seats; the database CHECK constraint enforces both.
type Driver struct {
	ID             types.ID
	Name           string
	TotalSeats     int
	AvailableSeats int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
