package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

var ErrNotFound = errors.New("driver not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, d *Driver) error {
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	d.AvailableSeats = d.TotalSeats
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, name, total_seats, available_seats, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(d.ID), d.Name, d.TotalSeats, d.AvailableSeats, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	var d Driver
	err := s.db.QueryRow(ctx, `
		SELECT id, name, total_seats, available_seats, created_at, updated_at
		FROM drivers WHERE id = $1`, string(id),
	).Scan(&d.ID, &d.Name, &d.TotalSeats, &d.AvailableSeats, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// LedgerBalanced checks available_seats + sum of seats held by the driver's
// active trips against total_seats. Used by tests and operational checks.
func (s *Store) LedgerBalanced(ctx context.Context, id types.ID) (bool, error) {
	var balanced bool
	err := s.db.QueryRow(ctx, `
		SELECT d.available_seats + COALESCE((
			SELECT SUM(t.seats) FROM trips t
			WHERE t.driver_id = d.id AND t.status IN ('created','ongoing')
		), 0) = d.total_seats
		FROM drivers d WHERE d.id = $1`, string(id),
	).Scan(&balanced)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return balanced, err
}
