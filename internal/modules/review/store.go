package review

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

var ErrNotFound = errors.New("review not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const columns = `
	id, order_id, reviewer_id, reviewee_id, review_type, rating, content,
	is_anonymous, status, audit_reason, created_at`

func (s *Store) Create(ctx context.Context, r *Review) error {
	r.ID = types.ID(uuid.NewString())
	r.CreatedAt = time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO reviews (id, order_id, reviewer_id, reviewee_id, review_type,
			rating, content, is_anonymous, status, audit_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		string(r.ID), string(r.OrderID), string(r.ReviewerID), string(r.RevieweeID),
		string(r.Type), r.Rating, r.Content, r.IsAnonymous, string(r.Status),
		r.AuditReason, r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Review, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM reviews WHERE id = $1`, string(id))
	return scan(row)
}

// ExistsForOrder reports whether the reviewer already reviewed this order.
func (s *Store) ExistsForOrder(ctx context.Context, orderID, reviewerID types.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM reviews WHERE order_id = $1 AND reviewer_id = $2)`,
		string(orderID), string(reviewerID),
	).Scan(&exists)
	return exists, err
}

// ListPublicByReviewee returns published reviews about a user. Reviews in
// moderation or rejected never appear here.
func (s *Store) ListPublicByReviewee(ctx context.Context, revieweeID types.ID, limit int) ([]*Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+` FROM reviews
		WHERE reviewee_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT $3`,
		string(revieweeID), string(StatusCompleted), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListPending returns reviews awaiting an admin decision, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+` FROM reviews
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(StatusUnderReview), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// Resolve settles one under_review review. The conditional update keeps a
// second concurrent decision from overwriting the first.
func (s *Store) Resolve(ctx context.Context, id types.ID, to Status, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reviews SET status = $1, audit_reason = $2
		WHERE id = $3 AND status = $4`,
		string(to), reason, string(id), string(StatusUnderReview),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func scan(row pgx.Row) (*Review, error) {
	var r Review
	err := row.Scan(&r.ID, &r.OrderID, &r.ReviewerID, &r.RevieweeID, &r.Type,
		&r.Rating, &r.Content, &r.IsAnonymous, &r.Status, &r.AuditReason, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanAll(rows pgx.Rows) ([]*Review, error) {
	var out []*Review
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
