// README: Notification fan-out: persist first, push second. The database row
// is the source of truth; the websocket delivery may silently miss.
package notification

import (
	"context"
	"encoding/json"

	"carpool/internal/logger"
	"carpool/internal/modules/order"
	"carpool/internal/modules/pool"
	"carpool/internal/types"
)

// Pusher delivers payloads to connected clients. Implemented by the
// websocket hub.
type Pusher interface {
	Push(userID types.ID, payload []byte) bool
	PushGroup(group string, payload []byte) []types.ID
}

type Service struct {
	store  *Store
	pusher Pusher
	pool   *pool.Store
	log    logger.ILogger
}

func NewService(store *Store, pusher Pusher, poolStore *pool.Store, log logger.ILogger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, pusher: pusher, pool: poolStore, log: log}
}

type pushEnvelope struct {
	Event   string `json:"event"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	TripID  string `json:"tripId,omitempty"`
}

// Notify stores the notification, then attempts the live push. Push failures
// only log; the stored row already guarantees eventual visibility.
func (s *Service) Notify(ctx context.Context, n order.Notice) {
	row := &Notification{
		RecipientID: n.Recipient,
		Event:       n.Event,
		Title:       n.Title,
		Body:        n.Body,
		OrderID:     n.OrderID,
		TripID:      n.TripID,
	}
	if err := s.store.Create(ctx, row); err != nil {
		s.log.Error("notification persist failed",
			logger.String("recipient", string(n.Recipient)),
			logger.String("event", n.Event),
			logger.Error(err))
		return
	}
	if s.pusher == nil {
		return
	}
	payload, err := json.Marshal(pushEnvelope{
		Event:   n.Event,
		Title:   n.Title,
		Body:    n.Body,
		OrderID: string(n.OrderID),
		TripID:  string(n.TripID),
	})
	if err != nil {
		return
	}
	if !s.pusher.Push(n.Recipient, payload) {
		s.log.Info("recipient offline, push skipped",
			logger.String("recipient", string(n.Recipient)),
			logger.String("event", n.Event))
	}
}

// Broadcast fans an order event out to a group. newOrder deliveries are
// recorded in the pool so reconnecting drivers are not re-notified;
// orderRemoved clears that record.
func (s *Service) Broadcast(ctx context.Context, group, event string, orderID types.ID) {
	if s.pusher == nil {
		return
	}
	payload, err := json.Marshal(pushEnvelope{Event: event, OrderID: string(orderID)})
	if err != nil {
		return
	}
	delivered := s.pusher.PushGroup(group, payload)

	// Re-notify bookkeeping only tracks the driver pool.
	if s.pool == nil || group != order.GroupDrivers {
		return
	}
	switch event {
	case order.EventNewOrder:
		if err := s.pool.RecordBroadcast(ctx, orderID, delivered); err != nil {
			s.log.Warning("broadcast record failed",
				logger.String("order_id", string(orderID)), logger.Error(err))
		}
	case order.EventOrderRemoved:
		if err := s.pool.ClearOrder(ctx, orderID); err != nil {
			s.log.Warning("broadcast clear failed",
				logger.String("order_id", string(orderID)), logger.Error(err))
		}
	}
}

// List returns the caller's notifications.
func (s *Service) List(ctx context.Context, recipientID types.ID, unreadOnly bool, limit int) ([]*Notification, error) {
	return s.store.ListByRecipient(ctx, recipientID, unreadOnly, limit)
}

func (s *Service) MarkRead(ctx context.Context, recipientID, id types.ID) error {
	return s.store.MarkRead(ctx, recipientID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID types.ID) error {
	return s.store.MarkAllRead(ctx, recipientID)
}
