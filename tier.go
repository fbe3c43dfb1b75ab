package llmgate

import (
	"context"
	"sync"
)

// TierResolver maps an identifier to its billing tier and entitlements. The
// production implementation is backed by an external subscription directory;
// the pipeline treats resolver failure as the free tier rather than failing
// the request, since under-granting is safer than over-granting paid
// entitlements.
type TierResolver interface {
	ResolveTier(ctx context.Context, identifier string) (TierInfo, error)
}

// StaticTierResolver resolves identifiers against a fixed in-memory table.
// Identifiers without an explicit assignment resolve to the free tier. It is
// intended for deployments without a subscription directory, and for tests.
type StaticTierResolver struct {
	mu    sync.RWMutex
	tiers map[string]Tier
	info  map[Tier]TierInfo
}

var _ TierResolver = (*StaticTierResolver)(nil)

// NewStaticTierResolver creates a resolver over the given tier table.
func NewStaticTierResolver(info map[Tier]TierInfo) *StaticTierResolver {
	return &StaticTierResolver{
		tiers: make(map[string]Tier),
		info:  info,
	}
}

// SetTier assigns a tier to an identifier.
func (r *StaticTierResolver) SetTier(identifier string, tier Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[identifier] = tier
}

// ResolveTier returns the entitlements for identifier.
func (r *StaticTierResolver) ResolveTier(_ context.Context, identifier string) (TierInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier, ok := r.tiers[identifier]
	if !ok {
		tier = TierFree
	}
	info := r.info[tier]
	info.Tier = tier
	return info, nil
}
