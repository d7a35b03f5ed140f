package domain

import "time"

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplained   SubscriberStatus = "complained"
)

// SubscriptionTier is the paid plan recorded on a Profile.
type SubscriptionTier string

const (
	SubscriptionNone     SubscriptionTier = "none"
	SubscriptionMonthly  SubscriptionTier = "monthly"
	SubscriptionAnnual   SubscriptionTier = "annual"
	SubscriptionLifetime SubscriptionTier = "lifetime"
)

// Subscriber is a marketing recipient. Subscribers are never hard-deleted;
// unsubscribe/bounce/complaint events move them through Status instead.
type Subscriber struct {
	ID            string           `json:"id" db:"id"`
	Email         string           `json:"email" db:"email"`
	Status        SubscriberStatus `json:"status" db:"status"`
	SubscribeDate time.Time        `json:"subscribe_date" db:"subscribe_date"`
	Tags          []string         `json:"tags" db:"tags"`
	UserID        *string          `json:"user_id,omitempty" db:"user_id"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// Profile is the account record a Subscriber may be linked to via UserID.
// It is owned by the account subsystem and only read here.
type Profile struct {
	ID              string           `json:"id" db:"id"`
	Subscription    SubscriptionTier `json:"subscription" db:"subscription"`
	FirstName       string           `json:"first_name" db:"first_name"`
	LastName        string           `json:"last_name" db:"last_name"`
	TrialExpiration *time.Time       `json:"trial_expiration,omitempty" db:"trial_expiration"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}
