// README: Review lifecycle: create after a paid trip, moderate, publish.
package review

import (
	"context"
	"errors"
	"unicode/utf8"

	"carpool/internal/logger"
	"carpool/internal/modules/order"
	"carpool/internal/types"
)

var (
	ErrBadRequest = errors.New("invalid review")
	ErrForbidden  = errors.New("review not allowed for caller")
	ErrNotRatable = errors.New("order not completed and paid")
	ErrDuplicate  = errors.New("order already reviewed by caller")
)

// EventReview is the notification event for review outcomes.
const EventReview = "review"

// OrderGetter loads the order being reviewed. Satisfied by the order store.
type OrderGetter interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

// Notifier fans review outcomes out to the parties. Satisfied by the
// notification service.
type Notifier interface {
	Notify(ctx context.Context, n order.Notice)
}

type Service struct {
	store    *Store
	orders   OrderGetter
	notifier Notifier
	log      logger.ILogger
}

func NewService(store *Store, orders OrderGetter, notifier Notifier, log logger.ILogger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, orders: orders, notifier: notifier, log: log}
}

type CreateCommand struct {
	Actor       order.Actor
	OrderID     types.ID
	Rating      int
	Content     string
	IsAnonymous bool
}

// Create files a review for a completed order. The passenger must have paid
// before rating; the driver may rate as soon as the trip completes. Each
// participant reviews the other exactly once; the moderation gate decides
// whether it publishes immediately or waits for an admin.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Review, error) {
	if cmd.Rating < MinRating || cmd.Rating > MaxRating {
		return nil, ErrBadRequest
	}
	if utf8.RuneCountInString(cmd.Content) > MaxContentLen {
		return nil, ErrBadRequest
	}
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := order.Authorize(order.ActionRate, cmd.Actor, o); err != nil {
		return nil, ErrForbidden
	}
	if o.Status != order.StatusCompleted {
		return nil, ErrNotRatable
	}
	if cmd.Actor.ID == o.PassengerID && o.PaymentStatus != order.PaymentPaid {
		return nil, ErrNotRatable
	}

	var reviewType Type
	var reviewee types.ID
	switch cmd.Actor.ID {
	case o.PassengerID:
		if o.DriverID == nil {
			return nil, ErrNotRatable
		}
		reviewType = TypePassengerToDriver
		reviewee = *o.DriverID
	default:
		reviewType = TypeDriverToPassenger
		reviewee = o.PassengerID
	}

	exists, err := s.store.ExistsForOrder(ctx, cmd.OrderID, cmd.Actor.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	r := &Review{
		OrderID:     cmd.OrderID,
		ReviewerID:  cmd.Actor.ID,
		RevieweeID:  reviewee,
		Type:        reviewType,
		Rating:      cmd.Rating,
		Content:     cmd.Content,
		IsAnonymous: cmd.IsAnonymous,
		Status:      ModerationStatus(cmd.Rating, cmd.Content),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusUnderReview:
		s.log.Info("review held for moderation",
			logger.String("review_id", string(r.ID)),
			logger.Int("rating", r.Rating))
		s.notify(ctx, order.Notice{
			Recipient: r.ReviewerID,
			Event:     EventReview,
			Title:     "Review under moderation",
			Body:      "Your review is being checked and will publish once approved.",
			OrderID:   r.OrderID,
		})
	case StatusCompleted:
		s.notify(ctx, order.Notice{
			Recipient: r.RevieweeID,
			Event:     EventReview,
			Title:     "New review",
			Body:      "You received a new review.",
			OrderID:   r.OrderID,
		})
	}
	return r, nil
}

// ListPublic returns published reviews about a user.
func (s *Service) ListPublic(ctx context.Context, revieweeID types.ID, limit int) ([]*Review, error) {
	return s.store.ListPublicByReviewee(ctx, revieweeID, limit)
}

// ListPending returns the moderation queue. Admin only.
func (s *Service) ListPending(ctx context.Context, actor order.Actor, limit int) ([]*Review, error) {
	if actor.Role != types.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.store.ListPending(ctx, limit)
}

type ResolveCommand struct {
	Actor    order.Actor
	ReviewID types.ID
	Approve  bool
	Reason   string
}

// Resolve settles a review in moderation: approve publishes it, reject
// buries it. Admin only.
func (s *Service) Resolve(ctx context.Context, cmd ResolveCommand) (*Review, error) {
	if cmd.Actor.Role != types.RoleAdmin {
		return nil, ErrForbidden
	}
	to := StatusRejected
	if cmd.Approve {
		to = StatusCompleted
	}
	if err := s.store.Resolve(ctx, cmd.ReviewID, to, cmd.Reason); err != nil {
		return nil, err
	}
	r, err := s.store.Get(ctx, cmd.ReviewID)
	if err != nil {
		return nil, err
	}
	if cmd.Approve {
		s.notify(ctx, order.Notice{
			Recipient: r.RevieweeID,
			Event:     EventReview,
			Title:     "New review",
			Body:      "You received a new review.",
			OrderID:   r.OrderID,
		})
	} else {
		s.notify(ctx, order.Notice{
			Recipient: r.ReviewerID,
			Event:     EventReview,
			Title:     "Review rejected",
			Body:      "Your review did not pass moderation.",
			OrderID:   r.OrderID,
		})
	}
	return r, nil
}

func (s *Service) notify(ctx context.Context, n order.Notice) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, n)
}
