// README: Append-only audit log. Every attempted lifecycle mutation lands
// here, denied and conflicted ones included.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/logger"
	"carpool/internal/modules/order"
)

type Entry struct {
	ID        int64
	ActorID   string
	Role      string
	OrderID   string
	Action    string
	From      string
	To        string
	Success   bool
	Message   string
	CreatedAt time.Time
}

type Store struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewStore(db *pgxpool.Pool, log logger.ILogger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log}
}

// Append writes one audit row. Best effort: an audit write must never fail a
// lifecycle operation, so errors are logged and swallowed.
func (s *Store) Append(ctx context.Context, r order.AuditRecord) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (actor_id, role, order_id, action, from_status, to_status, success, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(r.ActorID), string(r.Role), string(r.OrderID), string(r.Action),
		string(r.From), string(r.To), r.Success, r.Message, time.Now(),
	)
	if err != nil {
		s.log.Error("audit append failed",
			logger.String("order_id", string(r.OrderID)),
			logger.String("action", string(r.Action)),
			logger.Error(err))
	}
}

// ListByOrder returns the audit trail of one order, oldest first.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, actor_id, role, order_id, action, from_status, to_status, success, message, created_at
		FROM audit_log WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Role, &e.OrderID, &e.Action,
			&e.From, &e.To, &e.Success, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
