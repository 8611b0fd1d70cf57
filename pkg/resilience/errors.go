package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures so retry predicates and callers can switch on the
// class of an error instead of its concrete type.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindForbidden
	KindRateLimited
	KindTransient
	KindCircuitOpen
	KindExhaustedRetries
	KindAgeVerification
	KindDeliveryFailed
	KindInvalidChatOrFormat
	KindBotBlocked
	KindConfig
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidArgument:     "invalid_argument",
	KindNotFound:            "not_found",
	KindForbidden:           "forbidden",
	KindRateLimited:         "rate_limited",
	KindTransient:           "transient",
	KindCircuitOpen:         "circuit_open",
	KindExhaustedRetries:    "exhausted_retries",
	KindAgeVerification:     "age_verification_failed",
	KindDeliveryFailed:      "delivery_failed",
	KindInvalidChatOrFormat: "invalid_chat_or_format",
	KindBotBlocked:          "bot_blocked",
	KindConfig:              "config",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the tagged failure type produced throughout the courier.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter carries the server-dictated wait for KindRateLimited.
	RetryAfter time.Duration
	// Attempts carries the attempt count for KindExhaustedRetries.
	Attempts int
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindExhaustedRetries && e.Err != nil:
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, e.Kind, e.Attempts, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error wrapping err (which may be nil).
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is worth another attempt. Unclassified errors
// (raw transport failures that nothing wrapped) are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindRateLimited, KindUnknown:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the server-dictated wait if err is rate-limited.
func RetryAfterOf(err error) (time.Duration, bool) {
	var re *Error
	if errors.As(err, &re) && re.Kind == KindRateLimited && re.RetryAfter > 0 {
		return re.RetryAfter, true
	}
	return 0, false
}
