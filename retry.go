package syncengine

import "time"

// maxBackoffShift caps the exponent so the shift cannot overflow int64.
// The base policy itself has no delay ceiling.
const maxBackoffShift = 32

// backoffDelay computes the exponential retry delay base * 2^retryCount.
// Strictly increasing in retryCount for a fixed base.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return base * time.Duration(int64(1)<<uint(retryCount))
}
