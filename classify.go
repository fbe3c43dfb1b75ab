package llmgate

import (
	"errors"
	"net/http"
	"regexp"
	"time"
)

// ProviderError is a raw HTTP-level provider failure before classification.
// Provider adapters return it for any non-2xx response; transport failures
// (no status at all) are returned as plain errors.
type ProviderError struct {
	Status     int
	Message    string
	RetryAfter time.Duration // parsed Retry-After header, 0 if absent
}

func (e *ProviderError) Error() string { return e.Message }

// Message-content patterns are checked before generic status rules because
// identical status codes carry opposite fallback semantics depending on the
// message: a 401 "Invalid API key" is a configuration bug that must surface,
// a 401 "Insufficient credits" means the other provider may still have budget.
var (
	authInvalidPattern = regexp.MustCompile(`(?i)invalid.*key|unauthorized`)
	creditPattern      = regexp.MustCompile(`(?i)credit|insufficient|quota exhausted`)
)

// Classify maps a raw provider failure into the closed taxonomy. Errors that
// are already classified pass through unchanged, so retry exhaustion re-raises
// the same classification that drove the retries.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		// No HTTP status at all: network failure or timeout.
		return &ClassifiedError{
			Kind:             KindTimeout,
			Retryable:        true,
			FallbackEligible: true,
			Message:          err.Error(),
			cause:            err,
		}
	}

	switch {
	case pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden:
		if authInvalidPattern.MatchString(pe.Message) {
			return &ClassifiedError{
				Kind:    KindAuthInvalid,
				Message: pe.Message,
				Status:  pe.Status,
				cause:   pe,
			}
		}
		if creditPattern.MatchString(pe.Message) {
			return &ClassifiedError{
				Kind:             KindCreditExhausted,
				FallbackEligible: true,
				Message:          pe.Message,
				Status:           pe.Status,
				cause:            pe,
			}
		}
	case pe.Status == http.StatusTooManyRequests:
		return &ClassifiedError{
			Kind:             KindRateLimited,
			Retryable:        true,
			FallbackEligible: true,
			Message:          pe.Message,
			Status:           pe.Status,
			RetryAfter:       pe.RetryAfter,
			cause:            pe,
		}
	case pe.Status >= 500:
		return &ClassifiedError{
			Kind:             KindServiceUnavailable,
			Retryable:        true,
			FallbackEligible: true,
			Message:          pe.Message,
			Status:           pe.Status,
			RetryAfter:       pe.RetryAfter,
			cause:            pe,
		}
	}

	// Anything else: surface the raw message rather than guess intent.
	return &ClassifiedError{
		Kind:    KindUnknown,
		Message: pe.Message,
		Status:  pe.Status,
		cause:   pe,
	}
}
