package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Tier names a capability class within a provider. Every provider defines
// the same two tiers with its own models and token limits.
type Tier string

// Model tiers.
const (
	// TierAnalysis is the fast tier used for per-document extraction work.
	TierAnalysis Tier = "analysis"
	// TierReasoning is the deep tier used for decision synthesis.
	TierReasoning Tier = "reasoning"
)

// constructor builds a provider client from its resolved configuration.
type constructor func(cc ClientConfig) (Client, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]constructor)
)

// registerProvider adds a client variant to the registry. Each variant calls
// this from its init function, so dispatch is a single map lookup resolved at
// Create time rather than a conditional repeated across call sites.
func registerProvider(name string, fn constructor) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("provider %q already registered", name))
	}
	providers[name] = fn
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// modelTiers is the static lookup table resolving (provider, tier) to a
// ProviderConfig. Temperature is pinned to 0 for all tiers: analysis output
// must be reproducible, not creative.
var modelTiers = map[string]map[Tier]ProviderConfig{
	"anthropic": {
		TierAnalysis:  {Provider: "anthropic", Model: "claude-3-5-sonnet-latest", MaxTokens: 4096, ContextLimit: 200000},
		TierReasoning: {Provider: "anthropic", Model: "claude-3-opus-20240229", MaxTokens: 4096, ContextLimit: 200000},
	},
	"google": {
		TierAnalysis:  {Provider: "google", Model: "gemini-1.5-flash", MaxTokens: 2048, ContextLimit: 1048576},
		TierReasoning: {Provider: "google", Model: "gemini-1.5-pro", MaxTokens: 8192, ContextLimit: 2097152},
	},
	"openai": {
		TierAnalysis:  {Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 4096, ContextLimit: 128000},
		TierReasoning: {Provider: "openai", Model: "gpt-4-turbo-preview", MaxTokens: 4096, ContextLimit: 128000},
	},
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// APIKeys maps provider id to credential.
	APIKeys map[string]string
	// RateLimits overrides the per-provider defaults.
	RateLimits map[string]RateLimitConfig
	// BaseURLs overrides provider endpoints; used by tests.
	BaseURLs map[string]string
	Logger   *slog.Logger
	// UsageSink, when set, persists every usage record.
	UsageSink UsageSink
	Timeout   time.Duration
	// HardLimits makes the rate limiters fail instead of block.
	HardLimits bool
}

// Factory constructs sessions bound to a provider and model tier. It owns
// the shared per-provider rate limiters and the shared usage tracker; every
// session it creates for a given provider shares that provider's limiter.
type Factory struct {
	cfg      FactoryConfig
	logger   *slog.Logger
	usage    *UsageTracker
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewFactory creates a session factory.
func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	usage := NewUsageTracker(logger)
	if cfg.UsageSink != nil {
		usage.SetSink(cfg.UsageSink)
	}
	return &Factory{
		cfg:      cfg,
		logger:   logger,
		usage:    usage,
		limiters: make(map[string]*RateLimiter),
	}
}

// Create resolves (provider, tier) to a configuration, constructs the
// matching client variant, and wraps it in a fresh session.
func (f *Factory) Create(provider string, tier Tier) (*Session, error) {
	providersMu.RLock()
	build, ok := providers[provider]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	tierCfg, ok := modelTiers[provider][tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedModelTier, provider, tier)
	}

	client, err := build(ClientConfig{
		Provider: tierCfg,
		APIKey:   f.cfg.APIKeys[provider],
		BaseURL:  f.cfg.BaseURLs[provider],
		Timeout:  f.cfg.Timeout,
		Limiter:  f.limiter(provider),
		Usage:    f.usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}

	session := newSession(client, f.logger)
	f.logger.Debug("session created", "provider", provider, "tier", tier, "model", tierCfg.Model)
	return session, nil
}

// Usage returns the shared usage tracker.
func (f *Factory) Usage() *UsageTracker {
	return f.usage
}

// limiter returns the shared limiter for a provider, creating it on first
// use.
func (f *Factory) limiter(provider string) *RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[provider]; ok {
		return l
	}
	cfg, ok := f.cfg.RateLimits[provider]
	if !ok {
		cfg = DefaultRateLimit(provider)
	}
	cfg.Hard = cfg.Hard || f.cfg.HardLimits
	l := NewRateLimiter(cfg, f.logger)
	f.limiters[provider] = l
	return l
}
