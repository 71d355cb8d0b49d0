package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/adapter"
	"mpesa-payment-core/internal/domain/ports/repository"
	"mpesa-payment-core/internal/infra/logging"
	"mpesa-payment-core/internal/infra/metrics"
)

// Compile-time check
var _ PaymentFlowUseCase = (*paymentFlowUC)(nil)

const (
	// DefaultMaxAttempts bounds the interactive polling loop; with the
	// default 5s delay the wall-clock budget is ~30s.
	DefaultMaxAttempts = 6

	// PendingFreshness is how long a pending transaction is surfaced to the
	// UI before being treated as abandoned (it stays stored for audit).
	PendingFreshness = 30 * time.Minute

	// unknownCodeBudget bounds consecutive unrecognized gateway result
	// codes; treating them as pending forever would spin the loop on a
	// genuinely broken provider response.
	unknownCodeBudget = 3
)

const (
	msgPushSent        = "Payment request sent. Please check your phone."
	msgAlreadyDone     = "Payment already processed."
	msgCancelled       = "Payment was cancelled or failed. Please try again."
	msgTimeout         = "Payment verification timed out. Please contact support if the amount was deducted."
	msgNotFound        = "Transaction not found."
	msgEffectFailed    = "Payment received but your account could not be updated. Please contact support."
	msgGenericInitFail = "Could not initiate payment. Please try again later."
	msgGenericVerify   = "An error occurred during verification. Please try again."
)

// Hasher is the slice of the encryption service the orchestrator needs.
type Hasher interface {
	Hash(data string) string
}

type InitiateRequest struct {
	UserID         string
	Tier           Tier
	Seats          int
	OrganizationID string
	PhoneNumber    string
}

// InitiateResult is a tagged result; the UI branches on Success only.
type InitiateResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
	Amount            int64  `json:"amount,omitempty"`
}

type VerificationResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Timeout          bool   `json:"timeout,omitempty"`
	NotFound         bool   `json:"not_found,omitempty"`
	EffectFailed     bool   `json:"effect_failed,omitempty"`

	CreditsAdded        int        `json:"credits_added,omitempty"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
	Tier                string     `json:"tier,omitempty"`
}

// PaymentFlowUseCase drives a payment transaction through its lifecycle:
// initiate a push request, verify its resolution, and apply the financial
// effect exactly once. Nothing here raises across the UI boundary.
type PaymentFlowUseCase interface {
	Initiate(ctx context.Context, req InitiateRequest) InitiateResult
	// Verify polls the gateway up to maxAttempts times (<=0 means the
	// default). Exhausting the budget leaves the transaction pending.
	Verify(ctx context.Context, checkoutRequestID, userID string, maxAttempts int) VerificationResult
	// Reconcile is the trusted single-attempt path used by the gateway
	// callback and the scheduled sweep, where no caller identity exists.
	Reconcile(ctx context.Context, checkoutRequestID string) VerificationResult
	// GetPendingPayment returns the user's freshest pending transaction
	// within the freshness window, or nil.
	GetPendingPayment(ctx context.Context, userID string) (*model.PaymentTransaction, error)
}

type paymentFlowUC struct {
	transactions repository.TransactionRepository
	authority    SubscriptionAuthority
	gateway      adapter.PaymentGateway
	tm           repository.TransactionManager
	hasher       Hasher
	policy       PollPolicy
	log          *zerolog.Logger
	now          func() time.Time
}

func NewPaymentFlowUseCase(
	transactions repository.TransactionRepository,
	authority SubscriptionAuthority,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	hasher Hasher,
	policy PollPolicy,
	logger *zerolog.Logger,
) *paymentFlowUC {
	return &paymentFlowUC{
		transactions: transactions,
		authority:    authority,
		gateway:      gateway,
		tm:           tm,
		hasher:       hasher,
		policy:       policy,
		log:          logger,
		now:          time.Now,
	}
}

func transactionTypeFor(tier Tier) (model.TransactionType, error) {
	switch tier {
	case TierPayAsYouGo:
		return model.TransactionTypeCreditPurchase, nil
	case TierIndividual:
		return model.TransactionTypeSubscription, nil
	case TierTeam, TierEnterprise:
		return model.TransactionTypeOrganization, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
}

func (u *paymentFlowUC) Initiate(ctx context.Context, req InitiateRequest) InitiateResult {
	log := logging.With(ctx, u.log)

	txType, err := transactionTypeFor(req.Tier)
	if err != nil {
		return InitiateResult{Message: "Invalid subscription tier."}
	}
	if txType == model.TransactionTypeOrganization && req.OrganizationID == "" {
		return InitiateResult{Message: "An organization is required for this tier."}
	}

	amount, err := u.authority.PriceFor(req.Tier, req.Seats)
	if err != nil {
		log.Warn().Err(err).Str("tier", string(req.Tier)).Int("seats", req.Seats).Msg("pricing rejected")
		return InitiateResult{Message: "Invalid subscription tier or seat count."}
	}

	sanitized, err := u.gateway.SanitizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return InitiateResult{Message: "Invalid phone number. Use format 254XXXXXXXXX or 07XXXXXXXX."}
	}
	phoneHash := u.hasher.Hash(sanitized)

	description, accountRef := u.describePurchase(req)
	resp := u.gateway.InitiateSTKPush(ctx, sanitized, amount, description, accountRef)
	if !resp.OK() {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = msgGenericInitFail
		}
		log.Error().
			Str("phone_hash", phoneHash).
			Str("response_code", resp.ResponseCode).
			Msg("stk push rejected")
		return InitiateResult{Message: msg}
	}

	t := &model.PaymentTransaction{
		UserID:            req.UserID,
		Amount:            amount,
		Type:              txType,
		CheckoutRequestID: resp.CheckoutRequestID,
		PhoneNumberHash:   phoneHash,
		Status:            model.PaymentStatusPending,
		TransactionDate:   u.now(),
		Metadata:          u.metadataFor(req, txType, amount),
	}
	if txType == model.TransactionTypeCreditPurchase {
		t.CreditsPurchased = u.authority.CreditsFor(req.Tier)
	}

	if err := u.transactions.Create(ctx, nil, t); err != nil {
		// The push went out but we have no local record to reconcile
		// against. Loud log; the user is told to retry.
		log.Error().Err(err).
			Str("checkout_request_id", resp.CheckoutRequestID).
			Msg("failed to persist pending transaction after accepted push")
		return InitiateResult{Message: msgGenericInitFail}
	}

	metrics.IncPayment("initiated", string(txType))
	log.Info().
		Str("checkout_request_id", resp.CheckoutRequestID).
		Str("transaction_id", t.ID).
		Int64("amount", amount).
		Msg("payment initiated")
	return InitiateResult{
		Success:           true,
		Message:           msgPushSent,
		CheckoutRequestID: resp.CheckoutRequestID,
		Amount:            amount,
	}
}

func (u *paymentFlowUC) describePurchase(req InitiateRequest) (description, accountRef string) {
	cfg := Pricing[req.Tier]
	switch req.Tier {
	case TierPayAsYouGo:
		description = fmt.Sprintf("%s (%d credits)", cfg.Name, cfg.Credits)
	case TierIndividual:
		description = cfg.Name + " Subscription"
	default:
		description = fmt.Sprintf("%s (%d Users)", cfg.Name, req.Seats)
		ref := req.OrganizationID
		if len(ref) > 8 {
			ref = ref[:8]
		}
		accountRef = "ORG_" + ref
	}
	return description, accountRef
}

func (u *paymentFlowUC) metadataFor(req InitiateRequest, txType model.TransactionType, amount int64) model.TransactionMetadata {
	switch txType {
	case model.TransactionTypeCreditPurchase:
		return model.TransactionMetadata{
			CreditPurchase: &model.CreditPurchaseContext{Credits: u.authority.CreditsFor(req.Tier)},
		}
	case model.TransactionTypeSubscription:
		return model.TransactionMetadata{
			Subscription: &model.SubscriptionContext{DurationDays: int(SubscriptionDuration.Hours() / 24)},
		}
	default:
		seats := req.Seats
		if req.Tier == TierIndividual {
			seats = 1
		}
		var pricePerSeat int64
		if seats > 0 {
			pricePerSeat = amount / int64(seats)
		}
		return model.TransactionMetadata{
			Organization: &model.OrganizationContext{
				OrganizationID: req.OrganizationID,
				Tier:           string(req.Tier),
				Seats:          seats,
				PricePerSeat:   pricePerSeat,
			},
		}
	}
}

func (u *paymentFlowUC) Verify(ctx context.Context, checkoutRequestID, userID string, maxAttempts int) VerificationResult {
	ctx = logging.WithCheckoutID(ctx, checkoutRequestID)
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "PaymentFlow.Verify")()
	start := u.now()
	result := u.verify(ctx, log, checkoutRequestID, userID, maxAttempts, false)
	metrics.ObserveVerifyDuration(verifyMetricLabel(result), time.Since(start).Seconds())
	return result
}

func (u *paymentFlowUC) Reconcile(ctx context.Context, checkoutRequestID string) VerificationResult {
	ctx = logging.WithCheckoutID(ctx, checkoutRequestID)
	log := logging.With(ctx, u.log)
	start := u.now()
	result := u.verify(ctx, log, checkoutRequestID, "", 1, true)
	metrics.ObserveVerifyDuration(verifyMetricLabel(result), time.Since(start).Seconds())
	return result
}

func verifyMetricLabel(r VerificationResult) string {
	switch {
	case r.Success:
		return "ok"
	case r.Timeout:
		return "timeout"
	default:
		return "fail"
	}
}

func (u *paymentFlowUC) verify(ctx context.Context, log *zerolog.Logger, checkoutRequestID, userID string, maxAttempts int, trusted bool) VerificationResult {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	t, err := u.transactions.FindByCheckoutID(ctx, nil, checkoutRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return VerificationResult{NotFound: true, Message: msgNotFound}
		}
		log.Error().Err(err).Msg("load transaction")
		return VerificationResult{Message: msgGenericVerify}
	}
	// Ownership mismatch is reported exactly like a missing transaction.
	if !trusted && t.UserID != userID {
		log.Warn().Str("owner", t.UserID).Msg("verify called by non-owner")
		return VerificationResult{NotFound: true, Message: msgNotFound}
	}

	// Idempotence guard: a completed transaction short-circuits and must
	// never re-apply the financial effect.
	switch t.Status {
	case model.PaymentStatusCompleted:
		return VerificationResult{Success: true, AlreadyProcessed: true, Message: msgAlreadyDone}
	case model.PaymentStatusFailed:
		return VerificationResult{Message: msgCancelled}
	}

	unknownSeen := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := u.policy.Wait(ctx, attempt); err != nil {
				// Cancellation stops polling; the transaction stays
				// pending for a later retry.
				log.Info().Int("attempt", attempt).Msg("verification cancelled")
				return VerificationResult{Timeout: true, Message: msgTimeout}
			}
		}
		if err := u.transactions.IncrementVerificationAttempts(ctx, nil, checkoutRequestID); err != nil {
			log.Warn().Err(err).Msg("bump verification attempts")
		}

		q, err := u.gateway.QueryStatus(ctx, checkoutRequestID)
		if err != nil {
			// Gateway unreachable this attempt counts toward the budget
			// but is not a verification failure.
			log.Warn().Err(err).Int("attempt", attempt).Msg("status query failed")
			continue
		}

		switch q.Outcome() {
		case adapter.OutcomeSuccess:
			return u.complete(ctx, log, t, q.ReceiptNumber)
		case adapter.OutcomeFailed:
			if _, err := u.transactions.FailIfPending(ctx, nil, checkoutRequestID); err != nil {
				log.Error().Err(err).Msg("mark transaction failed")
			}
			metrics.IncPayment("failed", string(t.Type))
			log.Warn().Str("result_code", q.ResultCode).Msg("payment failed at gateway")
			return VerificationResult{Message: msgCancelled}
		case adapter.OutcomeUnknown:
			unknownSeen++
			log.Warn().
				Str("result_code", q.ResultCode).
				Int("unknown_seen", unknownSeen).
				Msg("unrecognized gateway result code")
			if unknownSeen >= unknownCodeBudget {
				metrics.IncPayment("timeout", string(t.Type))
				return VerificationResult{Timeout: true, Message: msgTimeout}
			}
		}
		// Pending (or tolerated unknown): wait and retry.
	}

	metrics.IncPayment("timeout", string(t.Type))
	log.Info().Int("max_attempts", maxAttempts).Msg("verification attempts exhausted; transaction left pending")
	return VerificationResult{Timeout: true, Message: msgTimeout}
}

// complete moves the transaction to completed and applies the financial
// effect. The conditional update is the single idempotence gate: losing the
// race means another verification call already applied the effect.
func (u *paymentFlowUC) complete(ctx context.Context, log *zerolog.Logger, t *model.PaymentTransaction, receiptNumber string) VerificationResult {
	var won bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.transactions.CompleteIfPending(ctx, tx, t.CheckoutRequestID, receiptNumber)
		won = ok
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("complete transaction")
		return VerificationResult{Message: msgGenericVerify}
	}
	if !won {
		return VerificationResult{Success: true, AlreadyProcessed: true, Message: msgAlreadyDone}
	}

	metrics.IncPayment("completed", string(t.Type))
	metrics.AddPaymentRevenue("kes", t.Amount)
	log.Info().Str("receipt", receiptNumber).Str("transaction_id", t.ID).Msg("payment completed")

	result, err := u.applyEffect(ctx, t)
	if err != nil {
		// The provider has been paid but the entitlement was not granted.
		// The transaction stays completed, with a marker for manual
		// reconciliation. This must never be silent.
		if markErr := u.transactions.MarkEffectFailed(ctx, nil, t.CheckoutRequestID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("record effect failure marker")
		}
		metrics.IncEffectFailure()
		log.Error().Err(err).
			Str("transaction_id", t.ID).
			Str("transaction_type", string(t.Type)).
			Msg("EFFECT APPLICATION FAILED: payment completed but entitlement not granted")
		return VerificationResult{EffectFailed: true, Message: msgEffectFailed}
	}
	return result
}

func (u *paymentFlowUC) applyEffect(ctx context.Context, t *model.PaymentTransaction) (VerificationResult, error) {
	switch t.Type {
	case model.TransactionTypeCreditPurchase:
		credits := t.CreditsPurchased
		if credits == 0 && t.Metadata.CreditPurchase != nil {
			credits = t.Metadata.CreditPurchase.Credits
		}
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return u.authority.ApplyCredits(ctx, tx, t.UserID, credits)
		})
		if err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{
			Success:      true,
			Message:      fmt.Sprintf("Payment successful! %d credit(s) added.", credits),
			CreditsAdded: credits,
		}, nil

	case model.TransactionTypeSubscription:
		endDate := u.now().Add(SubscriptionDuration)
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return u.authority.ActivateSubscription(ctx, tx, t.UserID, endDate)
		})
		if err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{
			Success:             true,
			Message:             "Payment successful! Your subscription is now active.",
			SubscriptionEndDate: &endDate,
		}, nil

	case model.TransactionTypeOrganization:
		meta := t.Metadata.Organization
		if meta == nil || meta.OrganizationID == "" {
			return VerificationResult{}, fmt.Errorf("%w: transaction %s has no organization context", domain.ErrInvalidArgument, t.ID)
		}
		pricePerSeat := meta.PricePerSeat
		if pricePerSeat == 0 && meta.Seats > 0 {
			pricePerSeat = t.Amount / int64(meta.Seats)
		}
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return u.authority.ActivateOrganizationSubscription(ctx, tx, meta.OrganizationID, Tier(meta.Tier), meta.Seats, pricePerSeat)
		})
		if err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{
			Success: true,
			Message: fmt.Sprintf("Payment successful! %s subscription active.", Pricing[Tier(meta.Tier)].Name),
			Tier:    meta.Tier,
		}, nil

	default:
		return VerificationResult{}, fmt.Errorf("%w: unhandled transaction type %q", domain.ErrInvalidArgument, t.Type)
	}
}

func (u *paymentFlowUC) GetPendingPayment(ctx context.Context, userID string) (*model.PaymentTransaction, error) {
	cutoff := u.now().Add(-PendingFreshness)
	t, err := u.transactions.FindLatestPendingByUser(ctx, nil, userID, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}
