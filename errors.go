package llmgate

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. ClassifiedError and LimitError match these through
// errors.Is while keeping the raw provider message as their Error() text.
var (
	ErrLimitExceeded        = errors.New("llmgate: usage limit exceeded")
	ErrAdmissionUnavailable = errors.New("llmgate: admission store unavailable")
	ErrAuthInvalid          = errors.New("llmgate: provider authentication invalid")
	ErrCreditExhausted      = errors.New("llmgate: provider credits exhausted")
	ErrRateLimited          = errors.New("llmgate: rate limited by provider")
	ErrProviderUnavailable  = errors.New("llmgate: provider unavailable")
	ErrProviderTimeout      = errors.New("llmgate: provider timed out")
	ErrUnknownFailure       = errors.New("llmgate: unclassified provider failure")
)

// Kind enumerates the closed failure taxonomy.
type Kind int

const (
	KindTimeout Kind = iota
	KindAuthInvalid
	KindCreditExhausted
	KindRateLimited
	KindServiceUnavailable
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindCreditExhausted:
		return "credit_exhausted"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// ClassifiedError is the normalized form of a raw provider failure. All
// downstream retry and fallback logic branches on Kind, Retryable and
// FallbackEligible; nothing re-inspects raw statuses or message strings.
//
// Error() returns the provider's message unchanged so that the text a caller
// sees ("Invalid API key", "Rate limit exceeded") is the root cause, not a
// rewording of it.
type ClassifiedError struct {
	Kind             Kind
	Retryable        bool
	FallbackEligible bool
	Message          string
	Status           int           // HTTP status, 0 for transport failures
	RetryAfter       time.Duration // provider retry hint, 0 if none
	cause            error
}

func (e *ClassifiedError) Error() string { return e.Message }

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Is maps each Kind onto its sentinel so callers can use errors.Is without
// losing the verbatim message.
func (e *ClassifiedError) Is(target error) bool {
	switch target {
	case ErrProviderTimeout:
		return e.Kind == KindTimeout
	case ErrAuthInvalid:
		return e.Kind == KindAuthInvalid
	case ErrCreditExhausted:
		return e.Kind == KindCreditExhausted
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrProviderUnavailable:
		return e.Kind == KindServiceUnavailable
	case ErrUnknownFailure:
		return e.Kind == KindUnknown
	}
	return false
}

// LimitError reports a denied reservation together with the quota data a
// caller needs to act on it.
type LimitError struct {
	Identifier string
	Remaining  int64
	Count      int64
	ResetAt    time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("llmgate: usage limit exceeded for %s, resets at %s",
		e.Identifier, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitExceeded }
