package llmgate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Quota actions. The daily reservation is billable and fails closed; the
// burst throttle is an abuse check and fails open.
const (
	ActionGenerate = "generate"
	actionBurst    = "generate_burst"
)

// Pipeline is the only entry point for generation requests. It resolves the
// tier, reserves quota, and dispatches through the fallback state machine.
// Quota is spent at admission time, not at completion time: a slot consumed
// by a successful reservation is not refunded on later failure.
type Pipeline struct {
	cfg        Config
	primary    ProviderClient
	secondary  ProviderClient
	resolver   TierResolver
	admission  *AdmissionController
	dispatcher *FallbackDispatcher
	health     *HealthTracker
	meter      Meter
	logger     *slog.Logger
	clock      func() time.Time
	loc        *time.Location
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTierResolver sets the tier resolver. The default resolves every
// identifier through the config tier table, with unassigned identifiers on
// the free tier.
func WithTierResolver(r TierResolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(p *Pipeline) { p.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the time source for admission windowing.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithLocation sets the reference timezone for calendar-day quota buckets
// (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) { p.loc = loc }
}

// New creates a Pipeline over the given providers and quota store. Both
// providers and the store are required; everything else has defaults.
func New(cfg Config, primary, secondary ProviderClient, store QuotaStore, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("llmgate: primary and secondary providers are required")
	}
	if store == nil {
		return nil, fmt.Errorf("llmgate: a quota store is required")
	}

	p := &Pipeline{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		clock:     time.Now,
		loc:       time.UTC,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Apply defaults after options.
	if p.meter == nil {
		p.meter = noopMeter{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.resolver == nil {
		p.resolver = NewStaticTierResolver(cfg.Tiers)
	}

	p.admission = NewAdmissionController(store,
		WithAdmissionClock(p.clock),
		WithReferenceLocation(p.loc),
		WithAdmissionLogger(p.logger),
	)
	p.health = NewHealthTracker()
	p.dispatcher = newFallbackDispatcher(
		primary, secondary,
		cfg.Primary.Keys, cfg.Secondary.Keys,
		NewRetryExecutor(cfg.MaxRetries, cfg.BaseDelay),
		p.meter, p.health, p.logger,
	)

	return p, nil
}

// Generate runs one admission-controlled generation. A denied request never
// reaches a provider; the returned error is a *LimitError carrying the
// remaining quota and reset time. Provider failures surface as
// *ClassifiedError whose message is the root-cause provider message.
func (p *Pipeline) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	requestID := uuid.New().String()
	start := p.clock()

	info := p.resolveTier(ctx, req.Identifier)

	// Coarse burst throttle: non-billable, fails open.
	if info.BurstPerMinute > 0 {
		dec, failedOpen := p.admission.Throttle(ctx, req.Identifier, actionBurst, info.BurstPerMinute, time.Minute)
		p.meter.OnAdmit(AdmitEvent{
			RequestID:  requestID,
			Identifier: req.Identifier,
			Tier:       info.Tier,
			Action:     actionBurst,
			Allowed:    dec.Allowed,
			Remaining:  dec.Remaining,
			ResetAt:    dec.ResetAt,
			FailedOpen: failedOpen,
		})
		if !dec.Allowed {
			return GenerationResult{}, &LimitError{
				Identifier: req.Identifier,
				Remaining:  dec.Remaining,
				Count:      dec.Count,
				ResetAt:    dec.ResetAt,
			}
		}
	}

	// Billable daily reservation: fails closed.
	dec, err := p.admission.Reserve(ctx, req.Identifier, ActionGenerate, info.DailyLimit, 24*time.Hour)
	if err != nil {
		return GenerationResult{}, err
	}
	p.meter.OnAdmit(AdmitEvent{
		RequestID:  requestID,
		Identifier: req.Identifier,
		Tier:       info.Tier,
		Action:     ActionGenerate,
		Allowed:    dec.Allowed,
		Remaining:  dec.Remaining,
		ResetAt:    dec.ResetAt,
	})
	if !dec.Allowed {
		return GenerationResult{}, &LimitError{
			Identifier: req.Identifier,
			Remaining:  dec.Remaining,
			Count:      dec.Count,
			ResetAt:    dec.ResetAt,
		}
	}

	model := req.ModelOverride
	if model == "" {
		model = info.DefaultModel
	}
	budget := req.Timeout
	if budget == 0 {
		budget = p.cfg.Budget
	}

	text, role, cerr := p.dispatcher.Dispatch(ctx, requestID, ProviderRequest{
		Tier:   info.Tier,
		Model:  model,
		Prompt: req.Prompt,
	}, budget)

	duration := p.clock().Sub(start)

	if cerr != nil {
		p.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  p.providerName(role),
			Role:      role,
			Model:     model,
			Tier:      info.Tier,
			Duration:  duration,
			Kind:      cerr.Kind,
			Err:       cerr,
		})
		if cerr.Kind == KindAuthInvalid || cerr.Kind == KindUnknown {
			// Operator-facing: preserve the underlying message in logs.
			p.logger.Error("generation failed fatally",
				"request_id", requestID,
				"kind", cerr.Kind.String(),
				"status", cerr.Status,
				"error", cerr.Message,
			)
		}
		return GenerationResult{}, cerr
	}

	p.meter.OnResult(ResultEvent{
		RequestID: requestID,
		Provider:  p.providerName(role),
		Role:      role,
		Model:     model,
		Tier:      info.Tier,
		Success:   true,
		Duration:  duration,
	})

	return GenerationResult{
		RequestID: requestID,
		Text:      text,
		Provider:  role,
		Model:     model,
		Duration:  duration,
	}, nil
}

// Remaining reports the current daily quota standing for an identifier,
// read-only, for display purposes.
func (p *Pipeline) Remaining(ctx context.Context, identifier string) (Decision, error) {
	info := p.resolveTier(ctx, identifier)
	return p.admission.Check(ctx, identifier, ActionGenerate, info.DailyLimit, 24*time.Hour)
}

// ProviderHealth returns the observed health of the provider serving role.
func (p *Pipeline) ProviderHealth(role ProviderRole) HealthState {
	return p.health.GetHealth(p.providerName(role))
}

// resolveTier resolves the identifier's tier, defaulting to the free tier on
// resolver failure: under-granting is safer than over-granting paid
// entitlements.
func (p *Pipeline) resolveTier(ctx context.Context, identifier string) TierInfo {
	info, err := p.resolver.ResolveTier(ctx, identifier)
	if err != nil {
		p.logger.Warn("tier resolution failed, defaulting to free",
			"identifier", identifier, "error", err)
		info = p.cfg.Tiers[TierFree]
		info.Tier = TierFree
	}
	return info
}

func (p *Pipeline) providerName(role ProviderRole) string {
	if role == RoleSecondary {
		return p.secondary.Name()
	}
	return p.primary.Name()
}
