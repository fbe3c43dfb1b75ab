package llmgate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lg "github.com/penscribe/llmgate"
	"github.com/penscribe/llmgate/provider/mock"
	"github.com/penscribe/llmgate/quota"
)

func testConfig() lg.Config {
	return lg.Config{
		Primary: lg.ProviderConfig{
			Keys: map[lg.Tier]lg.Auth{
				lg.TierFree: {APIKey: "pk-free"},
				lg.TierPro:  {APIKey: "pk-pro"},
			},
		},
		Secondary: lg.ProviderConfig{
			Keys: map[lg.Tier]lg.Auth{
				lg.TierFree: {APIKey: "sk-free"},
				lg.TierPro:  {APIKey: "sk-pro"},
			},
		},
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Budget:     5 * time.Second,
		Tiers: map[lg.Tier]lg.TierInfo{
			lg.TierFree: {Tier: lg.TierFree, DailyLimit: 100, DefaultModel: "free-model"},
			lg.TierPro:  {Tier: lg.TierPro, DailyLimit: 1000, DefaultModel: "pro-model"},
		},
	}
}

func newTestPipeline(t *testing.T, cfg lg.Config, primary, secondary *mock.Client, opts ...lg.Option) *lg.Pipeline {
	t.Helper()
	p, err := lg.New(cfg, primary, secondary, quota.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return p
}

// failingResolver simulates a subscription directory outage.
type failingResolver struct{}

func (failingResolver) ResolveTier(context.Context, string) (lg.TierInfo, error) {
	return lg.TierInfo{}, errors.New("directory unreachable")
}

func TestGenerate_PrimarySuccess(t *testing.T) {
	primary := mock.New(mock.WithName("primary"), mock.WithText("hello"))
	secondary := mock.New(mock.WithName("secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, lg.RolePrimary, res.Provider)
	assert.Equal(t, "free-model", res.Model)
	assert.NotEmpty(t, res.RequestID)
	assert.EqualValues(t, 0, secondary.CallCount())
}

// A 401 "Invalid API key" must not invoke the secondary and must surface the
// exact provider message: a bad key is a configuration bug, and routing
// around it would hide the misconfiguration.
func TestGenerate_AuthInvalidNeverFallsBack(t *testing.T) {
	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 401, Message: "Invalid API key"}))
	secondary := mock.New(mock.WithName("secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	_, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.Error(t, err)
	assert.Equal(t, "Invalid API key", err.Error())
	assert.ErrorIs(t, err, lg.ErrAuthInvalid)
	assert.EqualValues(t, 1, primary.CallCount())
	assert.EqualValues(t, 0, secondary.CallCount())
}

// A 401 "Insufficient credits" means the other provider may still have
// budget, so the secondary is attempted.
func TestGenerate_CreditExhaustedFallsBack(t *testing.T) {
	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 401, Message: "Insufficient credits"}))
	secondary := mock.New(mock.WithName("secondary"), mock.WithText("from secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", res.Text)
	assert.Equal(t, lg.RoleSecondary, res.Provider)
	assert.EqualValues(t, 1, primary.CallCount())
	assert.EqualValues(t, 1, secondary.CallCount())
}

func TestGenerate_RetriesThenFallback(t *testing.T) {
	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 429, Message: "Rate limit exceeded"}))
	secondary := mock.New(mock.WithName("secondary"), mock.WithText("from secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", res.Text)
	assert.Equal(t, lg.RoleSecondary, res.Provider)
	// maxRetries+1 primary attempts, one secondary attempt.
	assert.EqualValues(t, 4, primary.CallCount())
	assert.EqualValues(t, 1, secondary.CallCount())
}

// When both providers fail, the surfaced message is the primary's diagnosis,
// not the secondary's.
func TestGenerate_DualFailureSurfacesPrimaryError(t *testing.T) {
	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 429, Message: "Rate limit exceeded"}))
	secondary := mock.New(mock.WithName("secondary"),
		mock.WithError(&lg.ProviderError{Status: 503, Message: "secondary down"}))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	_, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.Error(t, err)
	assert.Equal(t, "Rate limit exceeded", err.Error())
	assert.ErrorIs(t, err, lg.ErrRateLimited)
	assert.EqualValues(t, 1, secondary.CallCount())
}

func TestGenerate_UnknownFailureIsFatal(t *testing.T) {
	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 400, Message: "prompt rejected by safety filter"}))
	secondary := mock.New(mock.WithName("secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	_, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.Error(t, err)
	assert.Equal(t, "prompt rejected by safety filter", err.Error())
	assert.ErrorIs(t, err, lg.ErrUnknownFailure)
	assert.EqualValues(t, 1, primary.CallCount())
	assert.EqualValues(t, 0, secondary.CallCount())
}

func TestGenerate_DeniedRequestNeverReachesProviders(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers[lg.TierFree] = lg.TierInfo{Tier: lg.TierFree, DailyLimit: 1, DefaultModel: "free-model"}

	primary := mock.New(mock.WithName("primary"))
	secondary := mock.New(mock.WithName("secondary"))
	p := newTestPipeline(t, cfg, primary, secondary)
	ctx := context.Background()

	_, err := p.Generate(ctx, lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.NoError(t, err)

	_, err = p.Generate(ctx, lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.Error(t, err)

	var le *lg.LimitError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, lg.ErrLimitExceeded)
	assert.Equal(t, int64(0), le.Remaining)
	assert.False(t, le.ResetAt.IsZero())
	assert.EqualValues(t, 1, primary.CallCount())
	assert.EqualValues(t, 0, secondary.CallCount())
}

func TestGenerate_BurstThrottleDeniesBeforeDailyReserve(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers[lg.TierFree] = lg.TierInfo{
		Tier: lg.TierFree, DailyLimit: 100, BurstPerMinute: 1, DefaultModel: "free-model",
	}

	primary := mock.New(mock.WithName("primary"))
	p := newTestPipeline(t, cfg, primary, mock.New(mock.WithName("secondary")))
	ctx := context.Background()

	_, err := p.Generate(ctx, lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.NoError(t, err)

	_, err = p.Generate(ctx, lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.ErrorIs(t, err, lg.ErrLimitExceeded)
	assert.EqualValues(t, 1, primary.CallCount())

	// The burst denial never touched the daily counter.
	dec, err := p.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dec.Count)
}

func TestGenerate_TierRoutingSelectsDefaultModel(t *testing.T) {
	cfg := testConfig()
	resolver := lg.NewStaticTierResolver(cfg.Tiers)
	resolver.SetTier("pro-user", lg.TierPro)

	primary := mock.New(mock.WithName("primary"))
	p := newTestPipeline(t, cfg, primary, mock.New(mock.WithName("secondary")),
		lg.WithTierResolver(resolver))
	ctx := context.Background()

	_, err := p.Generate(ctx, lg.GenerationRequest{Identifier: "free-user", Prompt: "hi"})
	require.NoError(t, err)
	req, ok := primary.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "free-model", req.Model)
	assert.Equal(t, "pk-free", req.Auth.APIKey)

	_, err = p.Generate(ctx, lg.GenerationRequest{Identifier: "pro-user", Prompt: "hi"})
	require.NoError(t, err)
	req, _ = primary.LastRequest()
	assert.Equal(t, "pro-model", req.Model)
	assert.Equal(t, "pk-pro", req.Auth.APIKey)
}

func TestGenerate_ModelOverrideWins(t *testing.T) {
	primary := mock.New(mock.WithName("primary"))
	p := newTestPipeline(t, testConfig(), primary, mock.New(mock.WithName("secondary")))

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier:    "user-1",
		Prompt:        "hi",
		ModelOverride: "experimental-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "experimental-model", res.Model)
	req, _ := primary.LastRequest()
	assert.Equal(t, "experimental-model", req.Model)
}

func TestGenerate_ResolverFailureDefaultsToFree(t *testing.T) {
	primary := mock.New(mock.WithName("primary"))
	p := newTestPipeline(t, testConfig(), primary, mock.New(mock.WithName("secondary")),
		lg.WithTierResolver(failingResolver{}))

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "anyone",
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "free-model", res.Model)
}

func TestGenerate_BudgetExhaustionFallsBack(t *testing.T) {
	primary := mock.New(mock.WithName("primary"), mock.WithLatency(500*time.Millisecond))
	secondary := mock.New(mock.WithName("secondary"), mock.WithText("from secondary"))
	p := newTestPipeline(t, testConfig(), primary, secondary)

	res, err := p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
		Timeout:    30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", res.Text)
	assert.Equal(t, lg.RoleSecondary, res.Provider)
}

func TestGenerate_AdmissionStoreDownFailsClosed(t *testing.T) {
	primary := mock.New(mock.WithName("primary"))
	p, err := lg.New(testConfig(), primary, mock.New(mock.WithName("secondary")), errStore{})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), lg.GenerationRequest{
		Identifier: "user-1",
		Prompt:     "hi",
	})
	require.ErrorIs(t, err, lg.ErrAdmissionUnavailable)
	assert.EqualValues(t, 0, primary.CallCount())
}

func TestGenerate_QuotaNotRefundedOnProviderFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers[lg.TierFree] = lg.TierInfo{Tier: lg.TierFree, DailyLimit: 5, DefaultModel: "free-model"}

	primary := mock.New(mock.WithName("primary"),
		mock.WithError(&lg.ProviderError{Status: 401, Message: "Invalid API key"}))
	p := newTestPipeline(t, cfg, primary, mock.New(mock.WithName("secondary")))
	ctx := context.Background()

	_, err := p.Generate(ctx, lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.Error(t, err)

	// Quota is spent at admission time: the failed generation still counts.
	dec, err := p.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dec.Count)
	assert.Equal(t, int64(4), dec.Remaining)
}

func TestNew_RequiresProvidersAndStore(t *testing.T) {
	cfg := testConfig()

	_, err := lg.New(cfg, nil, mock.New(), quota.NewMemoryStore())
	assert.Error(t, err)

	_, err = lg.New(cfg, mock.New(), mock.New(), nil)
	assert.Error(t, err)
}

func TestProviderHealth_TracksOutcomes(t *testing.T) {
	primary := mock.New(mock.WithName("primary"))
	p := newTestPipeline(t, testConfig(), primary, mock.New(mock.WithName("secondary")))

	_, err := p.Generate(context.Background(), lg.GenerationRequest{Identifier: "user-1", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, lg.HealthHealthy, p.ProviderHealth(lg.RolePrimary))
}
