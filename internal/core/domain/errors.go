package domain

import "errors"

var (
	// ErrUpstreamUnavailable covers network failures, timeouts and 5xx answers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamRateLimited is returned when the upstream throttles us.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrDecode is returned for malformed upstream responses.
	ErrDecode = errors.New("decode error")

	// ErrNotYetMined is returned when a block does not exist yet.
	// It is handled by the timestamp estimator and never leaves a fetcher.
	ErrNotYetMined = errors.New("block not yet mined")

	// ErrDeliveryRejected is returned when a channel refuses a message permanently.
	ErrDeliveryRejected = errors.New("delivery rejected")

	// ErrDeliveryTransient is returned for retryable delivery failures.
	ErrDeliveryTransient = errors.New("delivery transient failure")

	// ErrTargetGone refines ErrDeliveryRejected: the channel handle or the
	// referenced message no longer exists.
	ErrTargetGone = errors.New("delivery target gone")

	// ErrNotFound is returned by repositories for missing rows.
	ErrNotFound = errors.New("not found")
)

// TargetGone wraps err so that it matches both ErrDeliveryRejected and ErrTargetGone.
func TargetGone(err error) error {
	return errors.Join(ErrDeliveryRejected, ErrTargetGone, err)
}
