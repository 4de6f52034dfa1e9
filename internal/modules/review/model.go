// README: Reviews and the moderation gate.
package review

import (
	"strings"
	"time"

	"carpool/internal/types"
)

type Type string

const (
	TypePassengerToDriver Type = "passenger_to_driver"
	TypeDriverToPassenger Type = "driver_to_passenger"
)

type Status string

const (
	// StatusCompleted reviews are publicly visible.
	StatusCompleted Status = "completed"
	// StatusUnderReview reviews wait for an admin decision and stay out of
	// public listings.
	StatusUnderReview Status = "under_review"
	StatusRejected    Status = "rejected"
)

const (
	MinRating = 1
	MaxRating = 5
	// MaxContentLen caps review content, counted in characters.
	MaxContentLen = 500
	// Ratings at or below this go to moderation regardless of content.
	moderationRatingCeiling = 3
)

type Review struct {
	ID          types.ID
	OrderID     types.ID
	ReviewerID  types.ID
	RevieweeID  types.ID
	Type        Type
	Rating      int
	Content     string
	IsAnonymous bool
	Status      Status
	AuditReason string
	CreatedAt   time.Time
}

// denylist holds the terms that force a review into moderation. Matching is
// case-insensitive substring.
var denylist = []string{
	"scam",
	"fraud",
	"dangerous",
	"harass",
	"threat",
	"drunk",
	"stupid",
	"idiot",
}

// ModerationStatus decides the initial status of a new review. Low ratings
// and flagged content both route to moderation; only a clean high rating
// publishes immediately.
func ModerationStatus(rating int, content string) Status {
	if rating <= moderationRatingCeiling {
		return StatusUnderReview
	}
	lowered := strings.ToLower(content)
	for _, term := range denylist {
		if strings.Contains(lowered, term) {
			return StatusUnderReview
		}
	}
	return StatusCompleted
}
