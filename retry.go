package llmgate

import (
	"context"
	"errors"
	"time"
)

// RetryExecutor retries a provider call with bounded exponential backoff while
// the failure classifies as retryable. It communicates through ClassifiedError
// values rather than raising: the caller's fallback logic inspects the same
// classification that drove the retries.
type RetryExecutor struct {
	maxRetries int
	baseDelay  time.Duration

	// sleep is a seam for tests; defaults to a ctx-aware timer wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a RetryExecutor. maxRetries is the number of
// retries after the first attempt; negative values are treated as zero.
func NewRetryExecutor(maxRetries int, baseDelay time.Duration) *RetryExecutor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryExecutor{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
	}
}

// Execute runs fn up to maxRetries+1 times. Backoff doubles per attempt
// (baseDelay * 2^attempt); when the failure carries a provider retry hint the
// hint wins over the computed delay. The context is checked before every
// retry iteration so a caller abort interrupts pending backoff sleeps.
//
// On exhaustion the last classified failure is returned unmodified.
func (r *RetryExecutor) Execute(ctx context.Context, fn func(context.Context) (string, error)) (string, *ClassifiedError) {
	var last *ClassifiedError

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", classifyContextErr(err)
		}

		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}

		last = Classify(err)
		if !last.Retryable {
			return "", last
		}
		if attempt == r.maxRetries {
			break
		}

		delay := r.baseDelay << uint(attempt)
		if last.RetryAfter > 0 {
			delay = last.RetryAfter
		}
		if err := r.sleep(ctx, delay); err != nil {
			return "", classifyContextErr(err)
		}
	}

	return "", last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyContextErr turns a context error into a classification. Exhausting
// the wall-clock budget is treated as the provider being unavailable and
// proceeds to fallback evaluation; a caller abort is terminal and is never
// routed around.
func classifyContextErr(err error) *ClassifiedError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Kind:             KindServiceUnavailable,
			Retryable:        true,
			FallbackEligible: true,
			Message:          "generation budget exhausted",
			cause:            err,
		}
	}
	return &ClassifiedError{
		Kind:    KindTimeout,
		Message: "request canceled",
		cause:   err,
	}
}
