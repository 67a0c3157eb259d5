package resilience

import "github.com/inferencemesh/modelmesh/internal/core/status"

// StatusErrorChecker treats an engine *status.Error as retryable exactly
// when its Code classifies as transient or backend-internal; caller
// errors and permanent-unavailability errors are never retried.
type StatusErrorChecker struct{}

func (StatusErrorChecker) IsRetryable(err error) bool {
	se, ok := status.As(err)
	if !ok {
		// Unclassified errors (e.g. raw backend panics surfaced as error)
		// are assumed transient, matching the teacher's DefaultErrorChecker
		// "assume retryable" fallback.
		return true
	}
	switch se.Code.Class() {
	case status.ClassTransient, status.ClassBackend:
		return true
	default:
		return false
	}
}

var _ ErrorChecker = StatusErrorChecker{}
