// README: Common value types shared across modules.
package types

type ID string

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

// Point is an opaque coordinate pair ([lng, lat] on the wire); never validated
// or interpreted beyond storage and display.
type Point struct {
	Lng float64
	Lat float64
}
