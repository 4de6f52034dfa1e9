package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

var ErrNotFound = errors.New("notification not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, n *Notification) error {
	n.ID = types.ID(uuid.NewString())
	n.CreatedAt = time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, event, title, body, order_id, trip_id, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(n.ID), string(n.RecipientID), n.Event, n.Title, n.Body,
		string(n.OrderID), string(n.TripID), n.IsRead, n.CreatedAt,
	)
	return err
}

// ListByRecipient returns the user's notifications, newest first.
func (s *Store) ListByRecipient(ctx context.Context, recipientID types.ID, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `
		SELECT id, recipient_id, event, title, body, order_id, trip_id, is_read, created_at
		FROM notifications WHERE recipient_id = $1`
	if unreadOnly {
		query += ` AND is_read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, query, string(recipientID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Event, &n.Title, &n.Body,
			&n.OrderID, &n.TripID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkRead flips one notification owned by the recipient.
func (s *Store) MarkRead(ctx context.Context, recipientID, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE id = $1 AND recipient_id = $2`,
		string(id), string(recipientID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE recipient_id = $1 AND is_read = false`,
		string(recipientID),
	)
	return err
}
