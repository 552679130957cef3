package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory(overrides map[string]string) *Factory {
	return NewFactory(FactoryConfig{
		APIKeys: map[string]string{
			"anthropic": "test-key",
			"google":    "test-key",
			"openai":    "test-key",
		},
		BaseURLs: overrides,
	})
}

func TestFactory(t *testing.T) {
	t.Run("creates sessions for every registered provider and tier", func(t *testing.T) {
		f := testFactory(nil)

		for _, provider := range Providers() {
			for _, tier := range []Tier{TierAnalysis, TierReasoning} {
				s, err := f.Create(provider, tier)
				require.NoError(t, err, "%s/%s", provider, tier)
				assert.Equal(t, provider, s.Provider())
			}
		}
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := testFactory(nil)
		_, err := f.Create("mistral", TierAnalysis)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})

	t.Run("unsupported model tier", func(t *testing.T) {
		f := testFactory(nil)
		_, err := f.Create("anthropic", Tier("turbo"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedModelTier)
	})

	t.Run("missing api key is a creation-time error", func(t *testing.T) {
		f := NewFactory(FactoryConfig{})
		_, err := f.Create("anthropic", TierAnalysis)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("sessions on one provider share a rate limiter", func(t *testing.T) {
		f := testFactory(nil)
		assert.Same(t, f.limiter("anthropic"), f.limiter("anthropic"))
		assert.NotSame(t, f.limiter("anthropic"), f.limiter("openai"))
	})

	t.Run("registered providers are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"anthropic", "google", "openai"}, Providers())
	})
}

// TestConcurrentSessionsShareCounters exercises two independent sessions on
// the same provider driving the shared limiter concurrently: both must
// succeed and the shared counters must equal the sum of their contributions.
func TestConcurrentSessionsShareCounters(t *testing.T) {
	f := NewFactory(FactoryConfig{
		APIKeys: map[string]string{"anthropic": "test-key"},
		RateLimits: map[string]RateLimitConfig{
			"anthropic": {RequestsPerWindow: 1000, TokensPerWindow: 1000000, Window: time.Minute},
		},
	})
	limiter := f.limiter("anthropic")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				require.NoError(t, limiter.Acquire(context.Background(), 100))
			}
		}()
	}
	wg.Wait()

	requests, tokens := limiter.Counts()
	assert.Equal(t, 50, requests)
	assert.Equal(t, 5000, tokens)
}
