// Package policy holds the auto-cancellation decision applied after a failed
// settlement attempt.
package policy

// MaxConsecutiveFailures is the number of consecutive failed settlements that
// triggers automatic cancellation. It is a system constant, not a
// per-obligation field.
const MaxConsecutiveFailures = 3

// ShouldCancel decides whether an obligation should be auto-cancelled given
// its post-attempt consecutive failure count. It is consulted only after a
// failed settlement, never after a terminal no-op.
func ShouldCancel(failedPaymentCount int64) bool {
	return failedPaymentCount >= MaxConsecutiveFailures
}
