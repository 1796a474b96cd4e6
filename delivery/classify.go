package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType is the closed taxonomy of delivery failures.
type ErrorType string

const (
	// ErrTypeNetwork covers DNS and connection-refused failures. The
	// target is unreachable in a way a quick retry will not fix; terminal.
	ErrTypeNetwork ErrorType = "network_error"

	// ErrTypeTimeout covers deadline-exceeded HTTP calls; retryable.
	ErrTypeTimeout ErrorType = "timeout"

	// ErrTypeHTTP covers status-coded responses: 5xx retryable, 4xx terminal.
	ErrTypeHTTP ErrorType = "http_error"

	// ErrTypeNotFound marks a delivery whose subscription no longer
	// exists. No HTTP attempt is made; terminal.
	ErrTypeNotFound ErrorType = "webhook_not_found"

	// ErrTypeInactive marks a delivery whose subscription is disabled or
	// has no target URL. No HTTP attempt is made; terminal.
	ErrTypeInactive ErrorType = "webhook_inactive"

	// ErrTypeUnknown covers everything else; terminal, logged with full detail.
	ErrTypeUnknown ErrorType = "unknown_error"

	// ErrTypeRetryScheduled is the informational state stamped on a
	// delivery superseded by a scheduled retry.
	ErrTypeRetryScheduled ErrorType = "retry_scheduled"
)

// Outcome is the classification of one attempt result.
type Outcome int

const (
	// OutcomeSuccess means the target acknowledged with a 2xx.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable means the failure may self-correct (timeout, 5xx).
	OutcomeRetryable

	// OutcomeTerminal means retrying cannot help (4xx, unreachable host).
	OutcomeTerminal
)

// Classify maps an attempt result onto the taxonomy.
//
// Decision matrix:
//   - 2xx → success
//   - 5xx → http_error, retryable
//   - any other status → http_error, terminal
//   - deadline exceeded → timeout, retryable
//   - DNS / connection refused → network_error, terminal
//   - other transport errors → unknown_error, terminal
func Classify(res Result) (Outcome, *ErrorInfo) {
	if res.Err == nil {
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return OutcomeSuccess, nil
		}

		info := &ErrorInfo{
			Type:    ErrTypeHTTP,
			Message: fmt.Sprintf("endpoint returned HTTP %d", res.StatusCode),
			Code:    fmt.Sprintf("%d", res.StatusCode),
		}
		if res.StatusCode >= 500 {
			return OutcomeRetryable, info
		}
		return OutcomeTerminal, info
	}

	err := res.Err
	msg := err.Error()

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return OutcomeRetryable, &ErrorInfo{Type: ErrTypeTimeout, Message: msg}
	}

	if isUnreachable(err) {
		return OutcomeTerminal, &ErrorInfo{Type: ErrTypeNetwork, Message: msg}
	}

	return OutcomeTerminal, &ErrorInfo{Type: ErrTypeUnknown, Message: msg}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable")
}
