package model

import "time"

type TransactionType string

const (
	TransactionTypeCreditPurchase TransactionType = "credit_purchase"
	TransactionTypeSubscription   TransactionType = "subscription"
	TransactionTypeOrganization   TransactionType = "organization_subscription"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // STK push sent; awaiting gateway resolution
	PaymentStatusCompleted PaymentStatus = "completed" // gateway confirmed; terminal
	PaymentStatusFailed    PaymentStatus = "failed"    // cancelled / insufficient funds; terminal
)

// Terminal reports whether no further status transitions are permitted.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// CanTransitionTo enforces the pending -> {completed|failed} state machine.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.Terminal()
}

// CreditPurchaseContext carries what ApplyCredits needs at verification time.
type CreditPurchaseContext struct {
	Credits int `json:"credits"`
}

// SubscriptionContext carries the individual-subscription activation fields.
type SubscriptionContext struct {
	DurationDays int `json:"duration_days"`
}

// OrganizationContext carries enough to reconstruct the entitlement effect
// when verification runs in a different process than initiation.
type OrganizationContext struct {
	OrganizationID string `json:"organization_id"`
	Tier           string `json:"tier"`
	Seats          int    `json:"seats"`
	PricePerSeat   int64  `json:"price_per_seat"`
}

// TransactionMetadata is a tagged union keyed by TransactionType; exactly one
// variant is set for a given transaction.
type TransactionMetadata struct {
	CreditPurchase *CreditPurchaseContext `json:"credit_purchase,omitempty"`
	Subscription   *SubscriptionContext   `json:"subscription,omitempty"`
	Organization   *OrganizationContext   `json:"organization_subscription,omitempty"`
}

// PaymentTransaction records one push-payment request against the gateway.
// CheckoutRequestID is the correlation key for polling and callback matching;
// exactly one transaction exists per checkout request id.
type PaymentTransaction struct {
	ID                string // UUID, generated by the store on insert
	UserID            string
	Amount            int64 // KES, whole shillings
	Type              TransactionType
	CheckoutRequestID string
	PhoneNumberHash   string // truncated SHA-256; the number itself is never stored
	CreditsPurchased  int    // 0 for non-credit transaction types
	Status            PaymentStatus
	ReceiptNumber     string // gateway receipt, set only on completion
	Metadata          TransactionMetadata
	// EffectError marks "gateway paid, entitlement not granted" for manual
	// reconciliation. The transaction stays completed.
	EffectError          string
	TransactionDate      time.Time  // when the push was sent; never rewritten
	CompletedAt          *time.Time // set once on completion
	VerificationAttempts int
}
