package core

import "errors"

// Validation errors: rejected before any state change, retryable with corrected input.
var (
	ErrFeeMismatch       = errors.New("fee mismatch")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrBidTooLow         = errors.New("bid too low")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrHashMismatch      = errors.New("hash mismatch")
)

// Lifecycle errors: the auction is not in a phase that accepts the operation.
var (
	ErrAuctionNotActive   = errors.New("auction not active")
	ErrAuctionEndedByTime = errors.New("auction ended by time")
	ErrAlreadyEnded       = errors.New("auction already ended")
	ErrTooEarly           = errors.New("too early")
	ErrRevealPhaseOnly    = errors.New("reveal phase only")
	ErrAlreadyClaimed     = errors.New("reward already claimed")
)

// Authorization errors: never retryable by the same caller.
var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrNotTokenOwner = errors.New("not token owner")
)

// Lookup errors.
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoCommitment    = errors.New("no commitment for bidder")
	ErrTokenNotFound   = errors.New("token not found")
)

// ErrInteractionFailed wraps failures of external transfers or reward issuance
// that happened after settlement state was committed.
var ErrInteractionFailed = errors.New("post-settlement interaction failed")

// ErrorClass groups errors by how a caller should react to them.
type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassLifecycle     ErrorClass = "lifecycle"
	ClassAuthorization ErrorClass = "authorization"
	ClassNotFound      ErrorClass = "not_found"
	ClassInteraction   ErrorClass = "interaction"
	ClassUnknown       ErrorClass = "unknown"
)

var errorCodes = []struct {
	err   error
	code  string
	class ErrorClass
}{
	{ErrInteractionFailed, "interaction_failed", ClassInteraction},
	{ErrFeeMismatch, "fee_mismatch", ClassValidation},
	{ErrInvalidParameters, "invalid_parameters", ClassValidation},
	{ErrBidTooLow, "bid_too_low", ClassValidation},
	{ErrAmountMismatch, "amount_mismatch", ClassValidation},
	{ErrHashMismatch, "hash_mismatch", ClassValidation},
	{ErrAuctionNotActive, "auction_not_active", ClassLifecycle},
	{ErrAuctionEndedByTime, "auction_ended_by_time", ClassLifecycle},
	{ErrAlreadyEnded, "already_ended", ClassLifecycle},
	{ErrTooEarly, "too_early", ClassLifecycle},
	{ErrRevealPhaseOnly, "reveal_phase_only", ClassLifecycle},
	{ErrAlreadyClaimed, "already_claimed", ClassLifecycle},
	{ErrNotAuthorized, "not_authorized", ClassAuthorization},
	{ErrNotTokenOwner, "not_token_owner", ClassAuthorization},
	{ErrAuctionNotFound, "auction_not_found", ClassNotFound},
	{ErrNoCommitment, "no_commitment", ClassNotFound},
	{ErrTokenNotFound, "token_not_found", ClassNotFound},
}

// Classify returns the class of err, or ClassUnknown when err wraps none of
// the known sentinels.
func Classify(err error) ErrorClass {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.class
		}
	}
	return ClassUnknown
}

// ErrorCode returns the snake_case wire code of err, or "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
