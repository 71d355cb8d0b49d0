package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
	"mpesa-payment-core/internal/infra/logging"
)

var _ SessionGuardUseCase = (*sessionGuardUC)(nil)

const (
	msgGuardNoPayment = "Please complete payment before downloading."
	msgGuardStale     = "This payment was for a different document. Please pay for the current one."
	msgGuardExpired   = "Your payment session has expired. Please pay again."
	msgGuardPending   = "Payment not confirmed yet. Please complete the payment on your phone."

	// guardVerifyAttempts bounds the live check on the download path; the
	// interactive polling loop has already run by the time a user gets here.
	guardVerifyAttempts = 2
)

// GuardDecision is the outcome of an authorization check. Denied decisions
// carry a user-facing reason; nothing here is an error in the Go sense.
type GuardDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PaymentVerifier is the slice of the payment flow the guard needs for the
// live check on the download path.
type PaymentVerifier interface {
	Verify(ctx context.Context, checkoutRequestID, userID string, maxAttempts int) VerificationResult
}

// SessionGuardUseCase gates a privileged per-document action (the download)
// behind a verified session payment. The guard is deliberately independent of
// the durable transaction store: its state lives and dies with the session.
type SessionGuardUseCase interface {
	// ResetForNewDocument binds the session to a fresh document id and
	// discards any payment bound to the previous one.
	ResetForNewDocument(ctx context.Context, sessionID string) (documentID string, err error)
	// RecordInitiation attaches an in-flight payment to the session's
	// current document.
	RecordInitiation(ctx context.Context, sessionID, checkoutRequestID string, amount int64) error
	// MarkVerified flips the session payment to verified after the gateway
	// confirmed it.
	MarkVerified(ctx context.Context, sessionID string) error
	// AuthorizeAction checks the session payment against the document and
	// its TTL. An unverified payment triggers a live gateway verification
	// before the request is denied. A verified payment keeps authorizing
	// downloads of its document until the TTL runs out.
	AuthorizeAction(ctx context.Context, sessionID, documentID string) (GuardDecision, error)
}

type sessionGuardUC struct {
	store    repository.SessionPaymentStore
	verifier PaymentVerifier
	log      *zerolog.Logger
	now      func() time.Time
}

func NewSessionGuardUseCase(store repository.SessionPaymentStore, verifier PaymentVerifier, logger *zerolog.Logger) *sessionGuardUC {
	return &sessionGuardUC{store: store, verifier: verifier, log: logger, now: time.Now}
}

func newDocumentID(now time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return "doc_" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func (u *sessionGuardUC) ResetForNewDocument(ctx context.Context, sessionID string) (string, error) {
	docID := newDocumentID(u.now())
	state := &model.SessionPaymentState{CurrentDocumentID: docID}
	if err := u.store.Put(ctx, sessionID, state); err != nil {
		return "", fmt.Errorf("reset session payment state: %w", err)
	}
	logging.With(ctx, u.log).Debug().Str("document_id", docID).Msg("session bound to new document")
	return docID, nil
}

func (u *sessionGuardUC) RecordInitiation(ctx context.Context, sessionID, checkoutRequestID string, amount int64) error {
	state, err := u.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load session payment state: %w", err)
		}
		state = &model.SessionPaymentState{CurrentDocumentID: newDocumentID(u.now())}
	}
	state.Payment = &model.SessionPayment{
		DocumentID:        state.CurrentDocumentID,
		CheckoutRequestID: checkoutRequestID,
		Amount:            amount,
		CreatedAt:         u.now(),
	}
	if err := u.store.Put(ctx, sessionID, state); err != nil {
		return fmt.Errorf("record session payment: %w", err)
	}
	return nil
}

func (u *sessionGuardUC) MarkVerified(ctx context.Context, sessionID string) error {
	state, err := u.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session payment state: %w", err)
	}
	if state.Payment == nil {
		return fmt.Errorf("%w: no payment recorded for session", domain.ErrNotFound)
	}
	state.Payment.Verified = true
	state.Payment.Attempts++
	if err := u.store.Put(ctx, sessionID, state); err != nil {
		return fmt.Errorf("mark session payment verified: %w", err)
	}
	return nil
}

// AuthorizeAction applies the guard checks in order: a payment exists, it
// belongs to the requested document, and it is inside its TTL. Only then is
// verification considered; a payment the gateway may have confirmed behind
// our back gets a bounded live check instead of a flat denial.
func (u *sessionGuardUC) AuthorizeAction(ctx context.Context, sessionID, documentID string) (GuardDecision, error) {
	log := logging.With(ctx, u.log)

	state, err := u.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return GuardDecision{Reason: msgGuardNoPayment}, nil
		}
		return GuardDecision{}, fmt.Errorf("load session payment state: %w", err)
	}
	p := state.Payment
	if p == nil {
		return GuardDecision{Reason: msgGuardNoPayment}, nil
	}
	if p.DocumentID != documentID || state.CurrentDocumentID != documentID {
		log.Warn().
			Str("paid_document", p.DocumentID).
			Str("requested_document", documentID).
			Msg("session payment does not cover requested document")
		return GuardDecision{Reason: msgGuardStale}, nil
	}
	if p.ExpiredAt(u.now()) {
		return GuardDecision{Reason: msgGuardExpired}, nil
	}

	if !p.Verified {
		// The user may have paid on the phone without ever polling through
		// the verify endpoint. The session id doubles as the owning user id.
		result := u.verifier.Verify(ctx, p.CheckoutRequestID, sessionID, guardVerifyAttempts)
		if !result.Success {
			log.Info().
				Str("checkout_request_id", p.CheckoutRequestID).
				Str("message", result.Message).
				Msg("live verification on download path did not confirm payment")
			return GuardDecision{Reason: msgGuardPending}, nil
		}
		p.Verified = true
		p.Attempts++
		if err := u.store.Put(ctx, sessionID, state); err != nil {
			return GuardDecision{}, fmt.Errorf("persist verified session payment: %w", err)
		}
	}

	log.Info().Str("document_id", documentID).Msg("session payment authorizes download")
	return GuardDecision{Allowed: true}, nil
}
