package adapter

import "context"

// STKPushResponse is the parsed result of a push-payment request. Transport
// and parsing problems are folded into an error response (ResponseCode != "0")
// so callers can present a uniform "could not initiate payment" message.
type STKPushResponse struct {
	ResponseCode      string
	CheckoutRequestID string
	CustomerMessage   string
	ErrorMessage      string
}

// OK reports whether the gateway accepted the push request.
func (r *STKPushResponse) OK() bool { return r.ResponseCode == "0" }

// QueryOutcome classifies a status-query result code.
type QueryOutcome int

const (
	OutcomeSuccess QueryOutcome = iota
	OutcomeFailed               // terminal: user cancelled, timed out on the prompt, insufficient funds
	OutcomePending              // gateway has not resolved the request yet
	OutcomeUnknown              // unrecognized code; callers keep a separate bounded budget for these
)

// STKQueryResponse is the parsed result of a status query.
type STKQueryResponse struct {
	ResultCode    string
	ResultDesc    string
	ReceiptNumber string
}

// Outcome maps the provider result code onto the verification state machine.
// "0" is success; 1032 (cancelled), 1037 (prompt timeout) and 1 (insufficient
// funds) are terminal failures. An empty code or the provider's
// "being processed" code means still pending; anything else is unknown.
func (r *STKQueryResponse) Outcome() QueryOutcome {
	switch r.ResultCode {
	case "0":
		return OutcomeSuccess
	case "1032", "1037", "1":
		return OutcomeFailed
	case "", "500.001.1001":
		return OutcomePending
	default:
		return OutcomeUnknown
	}
}

// PaymentGateway is the port for the external push-payment provider.
type PaymentGateway interface {
	Name() string

	// SanitizePhoneNumber normalizes a raw phone number to the canonical
	// 254-prefixed 12-digit form, or fails with domain.ErrValidation.
	SanitizePhoneNumber(raw string) (string, error)

	// InitiateSTKPush sends the push-payment request. It never returns an
	// error; failures are reported through the response's ResponseCode.
	InitiateSTKPush(ctx context.Context, phoneNumber string, amount int64, description, accountReference string) *STKPushResponse

	// QueryStatus polls the provider for resolution of a push request.
	// Transport failures return domain.ErrTransport; a "still pending"
	// result is a normal response, never an error.
	QueryStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error)

	// GenerateAccountReference produces a reference for the gateway-side
	// correlation field when the caller does not supply one.
	GenerateAccountReference(length int) string
}
