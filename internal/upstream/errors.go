package upstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, throttling.
	ErrTransient = errors.New("upstream: transient error")

	// ErrMalformed marks payloads that cannot be decoded or lack required
	// fields. Retrying does not help.
	ErrMalformed = errors.New("upstream: malformed payload")

	// ErrNotFound is returned when the upstream has no such resource.
	ErrNotFound = errors.New("upstream: not found")

	// ErrRejected is returned for other non-retryable responses such as 403.
	ErrRejected = errors.New("upstream: request rejected")
)

// RateLimitError is returned when the upstream answered 429. It is transient.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream: rate limit reached, retry after %s", e.RetryAfter)
	}
	return "upstream: rate limit reached"
}

// Is makes errors.Is(err, ErrTransient) hold for rate-limit errors.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrTransient
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryAfter extracts the upstream cooldown hint from err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
