// README: Order/Trip store backed by PostgreSQL. Every multi-entity mutation is
// one transaction; status moves are conditional updates so concurrent actors
// cannot both commit.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, order_number, passenger_id, driver_id, trip_id, status,
	seat_count, total_price, payment_status, payment_time, cancel_reason,
	start_address, end_address, start_lng, start_lat, end_lng, end_lat,
	start_time, estimated_mins, distance_km, created_at, matched_at, updated_at`

const tripColumns = `
	id, trip_number, order_id, driver_id, passenger_id, seats, price, status,
	start_address, end_address, start_lng, start_lat, end_lng, end_lat,
	estimated_mins, distance_km, start_time, end_time, canceled_time, created_at`

// Create inserts a new pending order, generating the day-scoped order number
// (YYYYMMDD-0001) inside the same transaction. The unique index on
// order_number backstops the rare same-instant race on the sequence.
func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	number, err := nextNumber(ctx, tx, "orders", "order_number", "")
	if err != nil {
		return err
	}
	o.ID = types.ID(uuid.NewString())
	o.OrderNumber = number
	o.Status = StatusPending
	o.PaymentStatus = PaymentUnpaid
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, passenger_id, status, seat_count, total_price,
			payment_status, start_address, end_address, start_lng, start_lat,
			end_lng, end_lat, start_time, estimated_mins, distance_km,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		string(o.ID), o.OrderNumber, string(o.PassengerID), string(o.Status),
		o.SeatCount, o.TotalPrice, string(o.PaymentStatus),
		o.StartAddress, o.EndAddress, o.StartPoint.Lng, o.StartPoint.Lat,
		o.EndPoint.Lng, o.EndPoint.Lat, o.StartTime, o.EstimatedMins,
		o.DistanceKm, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

func (s *Store) GetTripByOrder(ctx context.Context, orderID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE order_id = $1`, string(orderID))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// AcceptParams carries the trip details a driver submits when claiming a
// pending order from the pool.
type AcceptParams struct {
	OrderID       types.ID
	DriverID      types.ID
	Seats         int
	Price         float64
	StartAddress  string
	EndAddress    string
	StartPoint    types.Point
	EndPoint      types.Point
	EstimatedMins int
	DistanceKm    float64
}

// Accept atomically binds a pending order to a driver: conditional status
// flip, conditional seat decrement, trip insert and trip binding all commit
// or roll back together. Of N concurrent attempts exactly one sees a row
// affected by the first update; the rest get ErrConflict and consume nothing.
func (s *Store) Accept(ctx context.Context, p AcceptParams) (*Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, driver_id = $2, matched_at = $3, updated_at = $3
		WHERE id = $4
		  AND status = $5
		  AND (driver_id IS NULL OR driver_id = $2)`,
		string(StatusMatched), string(p.DriverID), now,
		string(p.OrderID), string(StatusPending),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}

	// Seat check and decrement in one statement; two drivers can both pass a
	// separate read check, only one can win a conditional write.
	tag, err = tx.Exec(ctx, `
		UPDATE drivers
		SET available_seats = available_seats - $1
		WHERE id = $2 AND available_seats >= $1`,
		p.Seats, string(p.DriverID),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrNoSeats
	}

	number, err := nextNumber(ctx, tx, "trips", "trip_number", "TRIP-")
	if err != nil {
		return nil, err
	}
	o, err := getOrderTx(ctx, tx, p.OrderID)
	if err != nil {
		return nil, err
	}

	trip := &Trip{
		ID:            types.ID(uuid.NewString()),
		TripNumber:    number,
		OrderID:       p.OrderID,
		DriverID:      p.DriverID,
		PassengerID:   o.PassengerID,
		Seats:         p.Seats,
		Price:         p.Price,
		Status:        TripCreated,
		StartAddress:  p.StartAddress,
		EndAddress:    p.EndAddress,
		StartPoint:    p.StartPoint,
		EndPoint:      p.EndPoint,
		EstimatedMins: p.EstimatedMins,
		DistanceKm:    p.DistanceKm,
		CreatedAt:     now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO trips (
			id, trip_number, order_id, driver_id, passenger_id, seats, price,
			status, start_address, end_address, start_lng, start_lat, end_lng,
			end_lat, estimated_mins, distance_km, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		string(trip.ID), trip.TripNumber, string(trip.OrderID), string(trip.DriverID),
		string(trip.PassengerID), trip.Seats, trip.Price, string(trip.Status),
		trip.StartAddress, trip.EndAddress, trip.StartPoint.Lng, trip.StartPoint.Lat,
		trip.EndPoint.Lng, trip.EndPoint.Lat, trip.EstimatedMins, trip.DistanceKm,
		trip.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if _, err = tx.Exec(ctx, `UPDATE orders SET trip_id = $1 WHERE id = $2`,
		string(trip.ID), string(p.OrderID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return trip, nil
}

// Confirm flips the order matched→confirmed and its trip created→ongoing,
// stamping the trip start time, in one transaction.
func (s *Store) Confirm(ctx context.Context, orderID types.ID) (*Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(StatusConfirmed), now, string(orderID), string(StatusMatched),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE trips SET status = $1, start_time = $2
		WHERE order_id = $3 AND status = $4
		RETURNING `+tripColumns,
		string(TripOngoing), now, string(orderID), string(TripCreated),
	)
	trip, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return trip, nil
}

// Complete flips the order confirmed→completed, ends the trip and restores
// the trip's captured seat count to the driver's ledger.
func (s *Store) Complete(ctx context.Context, orderID types.ID) (*Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(StatusCompleted), now, string(orderID), string(StatusConfirmed),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE trips SET status = $1, end_time = $2
		WHERE order_id = $3 AND status = $4
		RETURNING `+tripColumns,
		string(TripCompleted), now, string(orderID), string(TripOngoing),
	)
	trip, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if err := restoreSeats(ctx, tx, trip); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return trip, nil
}

// Cancel moves the order to cancelled if its current status is in onlyFrom.
// An existing trip is cancelled with it and its captured seats restored; an
// order cancelled while still pending touches no trip and no ledger. The
// returned trip is nil when the order had none.
func (s *Store) Cancel(ctx context.Context, orderID types.ID, reason string, onlyFrom []Status) (*Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	from := make([]string, len(onlyFrom))
	for i, st := range onlyFrom {
		from[i] = string(st)
	}
	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, cancel_reason = $2, updated_at = $3
		WHERE id = $4 AND status = ANY($5)`,
		string(StatusCancelled), reason, now, string(orderID), from,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE trips SET status = $1, canceled_time = $2
		WHERE order_id = $3 AND status = ANY($4)
		RETURNING `+tripColumns,
		string(TripCancelled), now, string(orderID),
		[]string{string(TripCreated), string(TripOngoing)},
	)
	trip, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// No trip: the order never left pending.
		trip = nil
	} else if err != nil {
		return nil, err
	} else if err := restoreSeats(ctx, tx, trip); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return trip, nil
}

// SetPaid marks a completed, unpaid order as paid.
func (s *Store) SetPaid(ctx context.Context, orderID types.ID) (time.Time, error) {
	now := time.Now()
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET payment_status = $1, payment_time = $2, updated_at = $2
		WHERE id = $3 AND payment_status = $4 AND status = $5`,
		string(PaymentPaid), now, string(orderID),
		string(PaymentUnpaid), string(StatusCompleted),
	)
	if err != nil {
		return time.Time{}, err
	}
	if tag.RowsAffected() != 1 {
		return time.Time{}, ErrConflict
	}
	return now, nil
}

// SetRefunded marks a paid order as refunded. The refund collaborator must
// have succeeded before this is called.
func (s *Store) SetRefunded(ctx context.Context, orderID types.ID) (time.Time, error) {
	now := time.Now()
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET payment_status = $1, payment_time = $2, updated_at = $2
		WHERE id = $3 AND payment_status = $4`,
		string(PaymentRefunded), now, string(orderID), string(PaymentPaid),
	)
	if err != nil {
		return time.Time{}, err
	}
	if tag.RowsAffected() != 1 {
		return time.Time{}, ErrConflict
	}
	return now, nil
}

// ListStaleMatched returns orders still matched whose match happened before
// the cutoff. Used by the expiration sweep.
func (s *Store) ListStaleMatched(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND matched_at < $2
		ORDER BY matched_at`,
		string(StatusMatched), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ActiveByPassenger returns the passenger's non-terminal orders.
func (s *Store) ActiveByPassenger(ctx context.Context, passengerID types.ID) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE passenger_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`,
		string(passengerID),
		[]string{string(StatusPending), string(StatusMatched), string(StatusConfirmed)},
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// DriverTasks returns the driver's assigned orders (matched/confirmed) plus
// pool orders still pending whose seat demand fits the driver's free seats.
func (s *Store) DriverTasks(ctx context.Context, driverID types.ID) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`,
		string(driverID),
		[]string{string(StatusMatched), string(StatusConfirmed)},
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	assigned, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.status = $1
		  AND o.driver_id IS NULL
		  AND o.seat_count <= (SELECT available_seats FROM drivers WHERE id = $2)
		ORDER BY o.created_at DESC`,
		string(StatusPending), string(driverID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	available, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	return append(assigned, available...), nil
}

// ListFilter narrows the role-scoped order listing.
type ListFilter struct {
	PassengerID types.ID
	DriverID    types.ID
	Status      Status
	Limit       int
	Offset      int
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.PassengerID != "" {
		add("passenger_id", string(f.PassengerID))
	}
	if f.DriverID != "" {
		add("driver_id", string(f.DriverID))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, f.Offset)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func restoreSeats(ctx context.Context, tx pgx.Tx, trip *Trip) error {
	_, err := tx.Exec(ctx, `
		UPDATE drivers SET available_seats = available_seats + $1
		WHERE id = $2`,
		trip.Seats, string(trip.DriverID),
	)
	return err
}

// nextNumber produces the next day-scoped sequence number, e.g. 20250828-0001
// or TRIP-20250828-0001. Callers run it inside the insert transaction.
func nextNumber(ctx context.Context, tx pgx.Tx, table, column, prefix string) (string, error) {
	day := time.Now().Format("20060102")
	full := prefix + day
	var last string
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s LIKE $1 ORDER BY %s DESC LIMIT 1`,
		column, table, column, column), full+"-%").Scan(&last)
	seq := 0
	if err == nil && len(last) >= 4 {
		seq, _ = strconv.Atoi(last[len(last)-4:])
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", full, seq+1), nil
}

func getOrderTx(ctx context.Context, tx pgx.Tx, id types.ID) (*Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID, tripID, cancelReason *string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.PassengerID, &driverID, &tripID, &o.Status,
		&o.SeatCount, &o.TotalPrice, &o.PaymentStatus, &o.PaymentTime, &cancelReason,
		&o.StartAddress, &o.EndAddress, &o.StartPoint.Lng, &o.StartPoint.Lat,
		&o.EndPoint.Lng, &o.EndPoint.Lat, &o.StartTime, &o.EstimatedMins,
		&o.DistanceKm, &o.CreatedAt, &o.MatchedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	if tripID != nil {
		t := types.ID(*tripID)
		o.TripID = &t
	}
	o.CancelReason = cancelReason
	return &o, nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.TripNumber, &t.OrderID, &t.DriverID, &t.PassengerID,
		&t.Seats, &t.Price, &t.Status, &t.StartAddress, &t.EndAddress,
		&t.StartPoint.Lng, &t.StartPoint.Lat, &t.EndPoint.Lng, &t.EndPoint.Lat,
		&t.EstimatedMins, &t.DistanceKm, &t.StartTime, &t.EndTime,
		&t.CanceledTime, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanOrders(rows pgx.Rows) ([]*Order, error) {
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
