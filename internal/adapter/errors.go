package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Failure codes.
const (
	CodeUpstreamTimeout  = "upstream_timeout"
	CodeUpstreamRejected = "upstream_rejected"
	CodeRateLimited      = "rate_limited"
	CodeFormatChanged    = "format_changed"
	CodeCenterClosed     = "center_closed"
)

// FetchError describes why a fetch failed.
type FetchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Cause   error  `json:"-"`

	// RetryAfter is the upstream's requested pause, if it sent one.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *FetchError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Permanent reports whether the failure is not expected to clear on retry.
func (e *FetchError) Permanent() bool {
	return e.Code == CodeFormatChanged || e.Code == CodeCenterClosed
}

// Error constructors for common cases.

func ErrTimeout(cause error) *FetchError {
	return &FetchError{Code: CodeUpstreamTimeout, Message: "upstream did not respond in time", Cause: cause}
}

func ErrRejected(status int, msg string) *FetchError {
	return &FetchError{Code: CodeUpstreamRejected, Message: msg, Status: status}
}

func ErrRateLimited(retryAfter time.Duration) *FetchError {
	msg := "upstream rate limited"
	if retryAfter > 0 {
		msg = fmt.Sprintf("upstream rate limited, retry in %s", retryAfter.Round(time.Second))
	}
	return &FetchError{Code: CodeRateLimited, Message: msg, RetryAfter: retryAfter}
}

func ErrFormatChanged(msg string, cause error) *FetchError {
	return &FetchError{Code: CodeFormatChanged, Message: msg, Cause: cause}
}

func ErrCenterClosed(reason string) *FetchError {
	if reason == "" {
		reason = "center closed"
	}
	return &FetchError{Code: CodeCenterClosed, Message: reason}
}

// Classify converts an arbitrary error into a FetchError.
// Existing FetchErrors are returned unchanged; deadlines and network errors
// become timeouts; anything else is treated as a rejected request.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTimeout(err)
	}
	return &FetchError{Code: CodeUpstreamRejected, Message: err.Error(), Cause: err}
}
