package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

type Tier string

const (
	TierTrial      Tier = "trial"
	TierPayAsYouGo Tier = "pay_as_you_go"
	TierIndividual Tier = "individual"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// TierConfig describes pricing and entitlement shape for one tier.
// Amounts are KES, whole shillings.
type TierConfig struct {
	Name     string
	Amount   int64 // per seat when PerSeat, otherwise flat
	PerSeat  bool
	MinSeats int
	Credits  int // credit bundle size for pay-as-you-go
}

// Pricing mirrors the product's published tiers.
var Pricing = map[Tier]TierConfig{
	TierPayAsYouGo: {Name: "Pay As You Go", Amount: 500, Credits: 10},
	TierIndividual: {Name: "Individual", Amount: 8500, PerSeat: true, MinSeats: 1},
	TierTeam:       {Name: "Team", Amount: 6500, PerSeat: true, MinSeats: 3},
	TierEnterprise: {Name: "Enterprise", Amount: 5000, PerSeat: true, MinSeats: 10},
}

// SubscriptionDuration is the billing period applied on activation.
const SubscriptionDuration = 30 * 24 * time.Hour

// SubscriptionAuthority decides tier pricing and applies entitlement effects
// once a payment is confirmed. Effect methods participate in the caller's
// transaction via qx.
type SubscriptionAuthority interface {
	PriceFor(tier Tier, seats int) (int64, error)
	CreditsFor(tier Tier) int

	ApplyCredits(ctx context.Context, qx repository.Tx, userID string, delta int) error
	ActivateSubscription(ctx context.Context, qx repository.Tx, userID string, endDate time.Time) error
	ActivateOrganizationSubscription(ctx context.Context, qx repository.Tx, organizationID string, tier Tier, seats int, pricePerSeat int64) error
}

var _ SubscriptionAuthority = (*subscriptionAuthority)(nil)

type subscriptionAuthority struct {
	subs repository.SubscriptionRepository
	orgs repository.OrganizationSubscriptionRepository
	log  *zerolog.Logger
	now  func() time.Time
}

func NewSubscriptionAuthority(subs repository.SubscriptionRepository, orgs repository.OrganizationSubscriptionRepository, logger *zerolog.Logger) *subscriptionAuthority {
	return &subscriptionAuthority{subs: subs, orgs: orgs, log: logger, now: time.Now}
}

// PriceFor resolves the charge for a tier/seat combination. Individual is
// always a single seat; seat-based tiers enforce their minimum.
func (a *subscriptionAuthority) PriceFor(tier Tier, seats int) (int64, error) {
	cfg, ok := Pricing[tier]
	if !ok {
		return 0, fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
	if !cfg.PerSeat {
		return cfg.Amount, nil
	}
	if tier == TierIndividual {
		seats = 1
	}
	if seats < cfg.MinSeats {
		return 0, fmt.Errorf("%w: tier %q requires at least %d seats", domain.ErrValidation, tier, cfg.MinSeats)
	}
	return cfg.Amount * int64(seats), nil
}

func (a *subscriptionAuthority) CreditsFor(tier Tier) int {
	return Pricing[tier].Credits
}

func (a *subscriptionAuthority) ApplyCredits(ctx context.Context, qx repository.Tx, userID string, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("%w: credit delta must be positive", domain.ErrInvalidArgument)
	}
	if err := a.subs.AddCredits(ctx, qx, userID, delta); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	a.log.Info().Str("user_id", userID).Int("credits", delta).Msg("credits applied")
	return nil
}

func (a *subscriptionAuthority) ActivateSubscription(ctx context.Context, qx repository.Tx, userID string, endDate time.Time) error {
	if err := a.subs.UpsertUserSubscription(ctx, qx, userID, string(TierIndividual), endDate); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	a.log.Info().Str("user_id", userID).Time("end_date", endDate).Msg("subscription activated")
	return nil
}

func (a *subscriptionAuthority) ActivateOrganizationSubscription(ctx context.Context, qx repository.Tx, organizationID string, tier Tier, seats int, pricePerSeat int64) error {
	now := a.now()
	sub := &model.OrganizationSubscription{
		OrganizationID:     organizationID,
		Tier:               string(tier),
		Status:             model.SubscriptionStatusActive,
		SeatsPurchased:     seats,
		PricePerSeat:       pricePerSeat,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(SubscriptionDuration),
		NextBillingDate:    now.Add(SubscriptionDuration),
	}
	if err := a.orgs.Upsert(ctx, qx, sub); err != nil {
		return fmt.Errorf("activate organization subscription: %w", err)
	}
	a.log.Info().
		Str("organization_id", organizationID).
		Str("tier", string(tier)).
		Int("seats", seats).
		Msg("organization subscription activated")
	return nil
}
