package llmgate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Config is the pipeline configuration.
type Config struct {
	Primary   ProviderConfig
	Secondary ProviderConfig

	// MaxRetries is the number of retries after the first primary attempt.
	MaxRetries int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// Budget is the default wall-clock bound for the primary phase,
	// used when a request carries no timeout of its own.
	Budget time.Duration

	Tiers map[Tier]TierInfo
}

// ProviderConfig configures one provider endpoint with per-tier credentials.
type ProviderConfig struct {
	BaseURL string
	Keys    map[Tier]Auth
}

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 800 * time.Millisecond
	defaultBudget     = 60 * time.Second
)

// LoadConfig builds a Config from the environment. A .env file in the working
// directory is loaded first if present; real environment variables override
// it. Recognized options include PRIMARY_API_KEY_{FREE,PRO},
// SECONDARY_API_KEY_{FREE,PRO}, DEFAULT_MODEL_{FREE,PRO}, MAX_RETRIES and
// BASE_DELAY_MS.
func LoadConfig() (Config, error) {
	k := koanf.New(".")

	// Load .env if it exists (ignore error if missing).
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("llmgate: loading env vars: %w", err)
	}

	cfg := Config{
		Primary: ProviderConfig{
			BaseURL: k.String("primary.base.url"),
			Keys: map[Tier]Auth{
				TierFree: {APIKey: k.String("primary.api.key.free")},
				TierPro:  {APIKey: k.String("primary.api.key.pro")},
			},
		},
		Secondary: ProviderConfig{
			BaseURL: k.String("secondary.base.url"),
			Keys: map[Tier]Auth{
				TierFree: {APIKey: k.String("secondary.api.key.free")},
				TierPro:  {APIKey: k.String("secondary.api.key.pro")},
			},
		},
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		Budget:     defaultBudget,
		Tiers: map[Tier]TierInfo{
			TierFree: {
				Tier:           TierFree,
				DailyLimit:     20,
				BurstPerMinute: 5,
				DefaultModel:   k.String("default.model.free"),
			},
			TierPro: {
				Tier:           TierPro,
				DailyLimit:     200,
				BurstPerMinute: 60,
				DefaultModel:   k.String("default.model.pro"),
			},
		},
	}

	if k.Exists("max.retries") {
		cfg.MaxRetries = k.Int("max.retries")
	}
	if k.Exists("base.delay.ms") {
		cfg.BaseDelay = time.Duration(k.Int64("base.delay.ms")) * time.Millisecond
	}
	if k.Exists("generation.budget.ms") {
		cfg.Budget = time.Duration(k.Int64("generation.budget.ms")) * time.Millisecond
	}
	if k.Exists("daily.limit.free") {
		t := cfg.Tiers[TierFree]
		t.DailyLimit = k.Int64("daily.limit.free")
		cfg.Tiers[TierFree] = t
	}
	if k.Exists("daily.limit.pro") {
		t := cfg.Tiers[TierPro]
		t.DailyLimit = k.Int64("daily.limit.pro")
		cfg.Tiers[TierPro] = t
	}
	if k.Exists("burst.per.minute.free") {
		t := cfg.Tiers[TierFree]
		t.BurstPerMinute = k.Int64("burst.per.minute.free")
		cfg.Tiers[TierFree] = t
	}
	if k.Exists("burst.per.minute.pro") {
		t := cfg.Tiers[TierPro]
		t.BurstPerMinute = k.Int64("burst.per.minute.pro")
		cfg.Tiers[TierPro] = t
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("llmgate: config: max retries must be >= 0")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("llmgate: config: base delay must be positive")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("llmgate: config: at least one tier is required")
	}
	for tier, info := range c.Tiers {
		if info.DailyLimit < 0 {
			return fmt.Errorf("llmgate: config: tier %q: daily limit must be >= 0", tier)
		}
	}
	if _, ok := c.Tiers[TierFree]; !ok {
		return fmt.Errorf("llmgate: config: the free tier is required (it is the fallback tier)")
	}
	return nil
}

// tierFile is the YAML shape of an optional tier-limit file.
type tierFile struct {
	Tiers map[Tier]TierInfo `yaml:"tiers"`
}

// LoadTierFile reads per-tier limits and default models from a YAML file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadTierFile(path string) (map[Tier]TierInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llmgate: read tier file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var tf tierFile
	if err := yaml.Unmarshal([]byte(expanded), &tf); err != nil {
		return nil, fmt.Errorf("llmgate: parse tier file: %w", err)
	}
	if len(tf.Tiers) == 0 {
		return nil, fmt.Errorf("llmgate: tier file: no tiers defined")
	}

	for tier, info := range tf.Tiers {
		info.Tier = tier
		tf.Tiers[tier] = info
	}
	return tf.Tiers, nil
}
