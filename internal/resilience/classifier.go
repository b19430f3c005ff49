package resilience

import "strings"

// ErrorCategory groups gateway errors by the way they must be handled.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryNetwork
	CategoryAuth
	CategoryConflict
	CategoryTimeout
)

// String returns the category name for logs and journal entries.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryAuth:
		return "auth"
	case CategoryConflict:
		return "conflict"
	case CategoryTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classification is the verdict for a single gateway error.
type Classification struct {
	Category         ErrorCategory
	Retryable        bool
	ClearCredentials bool
}

// Substring patterns per category, checked in precedence order. The gateway
// library only exposes free-form messages, so classification is textual;
// keep the patterns lowercase.
var (
	conflictPatterns = []string{"conflict", "replaced"}
	timeoutPatterns  = []string{"timed out", "timeout"}
	authPatterns     = []string{"logged out", "unauthorized", "banned", "invalid session"}
	networkPatterns  = []string{"network", "connection"}
)

// Classify maps a gateway error to a handling verdict.
//
// Precedence matters: a "Stream Errored (conflict)" message means another
// session took over this identity, and must clear credentials even though
// the message also mentions a stream. Unmatched errors default to retryable
// UNKNOWN since most transient failures arrive unclassified.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Retryable: true}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case matchAny(msg, conflictPatterns):
		return Classification{Category: CategoryConflict, Retryable: true, ClearCredentials: true}
	case matchAny(msg, timeoutPatterns):
		return Classification{Category: CategoryTimeout, Retryable: true}
	case matchAny(msg, authPatterns):
		return Classification{Category: CategoryAuth, Retryable: false, ClearCredentials: true}
	case matchAny(msg, networkPatterns):
		return Classification{Category: CategoryNetwork, Retryable: true}
	default:
		return Classification{Category: CategoryUnknown, Retryable: true}
	}
}

// IsRetryable reports whether the error is safe to retry with backoff.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// ErrorType returns the category of the error.
func ErrorType(err error) ErrorCategory {
	return Classify(err).Category
}

// ShouldClearAuth reports whether persisted credentials must be purged
// before the next attempt. True for AUTH and CONFLICT errors: both mean the
// stored session is no longer valid for this identity.
func ShouldClearAuth(err error) bool {
	return Classify(err).ClearCredentials
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
