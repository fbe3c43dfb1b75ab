package llmgate

import (
	"context"
	"log/slog"
	"time"
)

// FallbackDispatcher drives the retry executor over the primary provider and,
// on fallback-eligible exhaustion, invokes the secondary provider exactly
// once with no retries and no further fallback. It holds no cross-request
// state beyond health bookkeeping.
type FallbackDispatcher struct {
	primary   ProviderClient
	secondary ProviderClient

	primaryAuth   map[Tier]Auth
	secondaryAuth map[Tier]Auth

	retry  *RetryExecutor
	meter  Meter
	health *HealthTracker
	logger *slog.Logger
}

func newFallbackDispatcher(
	primary, secondary ProviderClient,
	primaryAuth, secondaryAuth map[Tier]Auth,
	retry *RetryExecutor,
	meter Meter,
	health *HealthTracker,
	logger *slog.Logger,
) *FallbackDispatcher {
	return &FallbackDispatcher{
		primary:       primary,
		secondary:     secondary,
		primaryAuth:   primaryAuth,
		secondaryAuth: secondaryAuth,
		retry:         retry,
		meter:         meter,
		health:        health,
		logger:        logger,
	}
}

// Dispatch executes one generation request. budget bounds the whole primary
// phase including retries; exhausting it proceeds to fallback evaluation
// instead of hanging.
//
// When both providers fail, the primary's classified error is returned: the
// primary's diagnosis is what operators need even though the secondary is
// what actually failed last.
func (d *FallbackDispatcher) Dispatch(ctx context.Context, requestID string, req ProviderRequest, budget time.Duration) (string, ProviderRole, *ClassifiedError) {
	primaryCtx := ctx
	cancel := context.CancelFunc(func() {})
	if budget > 0 {
		primaryCtx, cancel = context.WithTimeout(ctx, budget)
	}

	attempt := 0
	preq := req
	preq.Auth = d.primaryAuth[req.Tier]

	text, primaryErr := d.retry.Execute(primaryCtx, func(c context.Context) (string, error) {
		attempt++
		d.meter.OnAttempt(AttemptEvent{
			RequestID: requestID,
			Provider:  d.primary.Name(),
			Role:      RolePrimary,
			Model:     req.Model,
			Attempt:   attempt,
		})
		return d.primary.Generate(c, preq)
	})
	cancel()

	if primaryErr == nil {
		d.health.RecordSuccess(d.primary.Name())
		return text, RolePrimary, nil
	}

	d.health.RecordFailure(d.primary.Name())
	d.logger.Warn("primary provider exhausted",
		"request_id", requestID,
		"provider", d.primary.Name(),
		"kind", primaryErr.Kind.String(),
		"attempts", attempt,
		"error", primaryErr.Message,
	)

	if !primaryErr.FallbackEligible {
		return "", RolePrimary, primaryErr
	}

	sreq := req
	sreq.Auth = d.secondaryAuth[req.Tier]
	d.meter.OnAttempt(AttemptEvent{
		RequestID: requestID,
		Provider:  d.secondary.Name(),
		Role:      RoleSecondary,
		Model:     req.Model,
		Attempt:   1,
	})

	text, err := d.secondary.Generate(ctx, sreq)
	if err != nil {
		d.health.RecordFailure(d.secondary.Name())
		secondaryErr := Classify(err)
		d.logger.Warn("secondary provider failed",
			"request_id", requestID,
			"provider", d.secondary.Name(),
			"kind", secondaryErr.Kind.String(),
			"error", secondaryErr.Message,
		)
		return "", RoleSecondary, primaryErr
	}

	d.health.RecordSuccess(d.secondary.Name())
	return text, RoleSecondary, nil
}
