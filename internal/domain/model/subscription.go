package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// UserSubscription is an individual (single-seat) subscription.
type UserSubscription struct {
	UserID    string
	Tier      string
	EndDate   time.Time
	Status    SubscriptionStatus
	UpdatedAt time.Time
}

// OrganizationSubscription is the seat-based subscription record activated
// after an organization_subscription payment completes.
type OrganizationSubscription struct {
	OrganizationID     string
	Tier               string
	Status             SubscriptionStatus
	SeatsPurchased     int
	SeatsUsed          int
	PricePerSeat       int64 // KES per seat per billing period
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	NextBillingDate    time.Time
}
