package services

import "errors"

// Sentinel errors for the orchestration services. Handlers map these to HTTP
// status codes; everything else surfaces as an internal error.
var (
	// ErrInvalidRequest marks caller mistakes (missing or malformed fields)
	ErrInvalidRequest = errors.New("invalid request")

	// ErrQuoteUnavailable is returned when the swap aggregator rejects the
	// quote request or cannot be reached
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrRecordNotFound is returned for lookups of unknown deposit addresses
	ErrRecordNotFound = errors.New("deposit record not found")

	// ErrMissingPaymentFields is returned when the 402 challenge lacks the
	// fields required to build the payment authorization
	ErrMissingPaymentFields = errors.New("payment challenge missing required fields")

	// ErrNoPaymentChallenge is returned when the payment endpoint does not
	// answer with a 402 challenge
	ErrNoPaymentChallenge = errors.New("payment endpoint did not return a challenge")

	// ErrSubmissionFailed is returned when the payment endpoint rejects the
	// signed authorization. The signed artifact is already durable at that
	// point; submission is retried from persisted state, never re-signed.
	ErrSubmissionFailed = errors.New("payment submission failed")

	// ErrSigningFailed is returned when the signing service cannot produce a
	// usable signature
	ErrSigningFailed = errors.New("signing failed")
)
