package model

import "time"

// SessionPaymentTTL bounds how long a session-scoped payment may authorize
// the privileged action it was created for.
const SessionPaymentTTL = 30 * time.Minute

// SessionPayment is the lightweight, session-scoped sibling of
// PaymentTransaction used for single-document pay-per-download flows.
// It never touches the durable transaction store.
type SessionPayment struct {
	DocumentID        string    `json:"document_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Amount            int64     `json:"amount"`
	CreatedAt         time.Time `json:"created_at"`
	Verified          bool      `json:"verified"`
	Attempts          int       `json:"attempts"`
}

// ExpiredAt reports whether the payment is past its TTL at the given instant.
func (p *SessionPayment) ExpiredAt(now time.Time) bool {
	return now.Sub(p.CreatedAt) > SessionPaymentTTL
}

// SessionPaymentState is what a UI session owns: the document currently being
// acted on and at most one in-flight payment bound to it.
type SessionPaymentState struct {
	CurrentDocumentID string          `json:"current_document_id"`
	Payment           *SessionPayment `json:"payment,omitempty"`
}
