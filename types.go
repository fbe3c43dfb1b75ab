package llmgate

import "time"

// Tier is a billing-plan bucket controlling quota limits and model selection.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierInfo describes the entitlements attached to a tier.
type TierInfo struct {
	Tier           Tier   `yaml:"-"`
	DailyLimit     int64  `yaml:"daily_limit"`
	BurstPerMinute int64  `yaml:"burst_per_minute"`
	DefaultModel   string `yaml:"default_model"`
}

// GenerationRequest is one text-generation request entering the pipeline.
type GenerationRequest struct {
	Identifier    string
	Prompt        string
	ModelOverride string
	// Timeout bounds the primary attempt phase including retries.
	// Zero means the pipeline default (60s).
	Timeout time.Duration
}

// ProviderRole identifies which provider served a request.
type ProviderRole string

const (
	RolePrimary   ProviderRole = "primary"
	RoleSecondary ProviderRole = "secondary"
)

// GenerationResult is the outcome of a successful generation.
type GenerationResult struct {
	RequestID string
	Text      string
	Provider  ProviderRole
	Model     string
	Duration  time.Duration
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
