package llmgate

import "context"

// ProviderClient is the interface that upstream model provider adapters must
// implement. A client sends exactly one generation call; retry and fallback
// live above it.
type ProviderClient interface {
	// Name returns the provider identifier (e.g. "openai", "grok").
	Name() string

	// Generate performs one generation call and returns the raw text.
	// Non-2xx responses are returned as *ProviderError; transport failures
	// come back as plain errors with no status.
	Generate(ctx context.Context, req ProviderRequest) (string, error)
}

// Auth holds authentication credentials for a provider call.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter. Auth is injected
// by the dispatcher from the tier-specific key set just before each call.
type ProviderRequest struct {
	Auth   Auth
	Tier   Tier
	Model  string
	Prompt string

	Temperature *float64
	MaxTokens   *int
}
