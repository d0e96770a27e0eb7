package errors

import "errors"

// Validation errors, rejected before any lock is taken.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSameUser            = errors.New("inviter and invitee are the same user")
	ErrUnauthorizedClaimer = errors.New("claimer is not a party to the referral")
	ErrEmptyUserKey        = errors.New("user key is empty")
)

// State errors, detected under the lock and returned for business branching.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrPurchaseRefunded    = errors.New("purchase already refunded")
	ErrPurchaseCompleted   = errors.New("purchase already completed")
)

// Infrastructure errors, never business-branched.
var (
	ErrLockTimeout = errors.New("lock acquisition timed out")
	ErrInternal    = errors.New("internal error")
)

// Retryable reports whether err is transient and the caller should retry
// the operation rather than surface a business failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
