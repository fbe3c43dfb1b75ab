package llmgate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// AdmissionController gates requests against windowed quotas before any
// expensive work happens. It owns the window math (bucketing, reset times)
// and delegates the atomic check-and-increment to a QuotaStore; no
// client-side locking is used or needed.
//
// Store failure policy is dual: Reserve fails closed (quota-bearing
// reservations must not silently grant unmetered usage) while Throttle fails
// open (interactive abuse checks prefer availability).
type AdmissionController struct {
	store  QuotaStore
	clock  func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// AdmissionOption configures an AdmissionController.
type AdmissionOption func(*AdmissionController)

// WithAdmissionClock overrides the time source.
func WithAdmissionClock(clock func() time.Time) AdmissionOption {
	return func(a *AdmissionController) { a.clock = clock }
}

// WithReferenceLocation sets the timezone used for calendar-day buckets
// (default UTC).
func WithReferenceLocation(loc *time.Location) AdmissionOption {
	return func(a *AdmissionController) { a.loc = loc }
}

// WithAdmissionLogger sets the logger.
func WithAdmissionLogger(l *slog.Logger) AdmissionOption {
	return func(a *AdmissionController) { a.logger = l }
}

// NewAdmissionController creates an AdmissionController over store.
func NewAdmissionController(store QuotaStore, opts ...AdmissionOption) *AdmissionController {
	a := &AdmissionController{
		store: store,
		clock: time.Now,
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Reserve atomically consumes one unit of quota for (identifier, action) in
// the current window. On store failure it fails closed with a retryable
// ErrAdmissionUnavailable.
func (a *AdmissionController) Reserve(ctx context.Context, identifier, action string, limit int64, window time.Duration) (Decision, error) {
	now := a.clock()
	key, resetAt := a.windowKey(identifier, action, window, now)

	dec, err := a.store.Reserve(ctx, key, limit, now, resetAt)
	if err != nil {
		a.logger.Error("admission store unavailable, failing closed",
			"identifier", identifier, "action", action, "error", err)
		return Decision{}, fmt.Errorf("%w: %v", ErrAdmissionUnavailable, err)
	}
	return dec, nil
}

// Throttle is the fail-open counterpart of Reserve for non-billable checks.
// On store failure the request is allowed, the failure is logged, and
// failedOpen reports that the grant was not backed by a counter.
func (a *AdmissionController) Throttle(ctx context.Context, identifier, action string, limit int64, window time.Duration) (dec Decision, failedOpen bool) {
	now := a.clock()
	key, resetAt := a.windowKey(identifier, action, window, now)

	dec, err := a.store.Reserve(ctx, key, limit, now, resetAt)
	if err != nil {
		a.logger.Warn("throttle store unavailable, failing open",
			"identifier", identifier, "action", action, "error", err)
		return Decision{Allowed: true, Remaining: limit, ResetAt: resetAt}, true
	}
	return dec, false
}

// Check applies the same window logic read-only, for display purposes. It
// must never be paired with a separate increment by any caller; that would
// reintroduce the race Reserve exists to prevent.
func (a *AdmissionController) Check(ctx context.Context, identifier, action string, limit int64, window time.Duration) (Decision, error) {
	now := a.clock()
	key, resetAt := a.windowKey(identifier, action, window, now)

	rec, ok, err := a.store.Peek(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrAdmissionUnavailable, err)
	}
	if !ok || now.After(rec.ResetAt) {
		return Decision{Allowed: limit > 0, Remaining: limit, ResetAt: resetAt}, nil
	}

	remaining := limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   rec.Count < limit,
		Remaining: remaining,
		Count:     rec.Count,
		ResetAt:   rec.ResetAt,
	}, nil
}

// windowKey computes the store key and reset time for the window containing
// now. Day-length windows bucket by calendar date in the reference timezone
// so resets align with human-meaningful days; sub-day windows bucket by epoch
// modulo for short rolling intervals.
func (a *AdmissionController) windowKey(identifier, action string, window time.Duration, now time.Time) (string, time.Time) {
	var bucket string
	var resetAt time.Time

	if window >= 24*time.Hour {
		local := now.In(a.loc)
		bucket = local.Format("2006-01-02")
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
		resetAt = start.Add(window)
	} else {
		ms := now.UnixMilli()
		startMs := ms - ms%window.Milliseconds()
		bucket = strconv.FormatInt(startMs, 10)
		resetAt = time.UnixMilli(startMs).Add(window)
	}

	return identifier + ":" + action + ":" + bucket, resetAt
}
