package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the per-provider throttle settings.
type RateLimitConfig struct {
	RequestsPerWindow int
	TokensPerWindow   int
	MinInterval       time.Duration
	Window            time.Duration
	// Hard makes Acquire fail with ErrRateLimitExceeded instead of blocking
	// until the window resets.
	Hard bool
}

// defaultRateLimits holds the published quotas for each provider.
var defaultRateLimits = map[string]RateLimitConfig{
	"anthropic": {RequestsPerWindow: 50, TokensPerWindow: 80000, MinInterval: 100 * time.Millisecond},
	"google":    {RequestsPerWindow: 60, TokensPerWindow: 60000, MinInterval: 100 * time.Millisecond},
	"openai":    {RequestsPerWindow: 200, TokensPerWindow: 100000, MinInterval: 50 * time.Millisecond},
}

// DefaultRateLimit returns the published quota for a provider, or a
// conservative fallback for unknown ones.
func DefaultRateLimit(provider string) RateLimitConfig {
	if cfg, ok := defaultRateLimits[provider]; ok {
		return cfg
	}
	return RateLimitConfig{RequestsPerWindow: 30, TokensPerWindow: 40000, MinInterval: 200 * time.Millisecond}
}

// RateLimiter enforces a fixed-window request and token budget plus a minimum
// inter-request spacing. One instance is shared per provider across all
// sessions; the mutex is held only for the counter check-and-update, never
// across a sleep or a network call.
//
// The window is a fixed-window counter, not a sliding log: counters reset in
// full once the window's age exceeds the window length, which is acceptably
// imprecise at window boundaries.
type RateLimiter struct {
	windowStart time.Time
	spacing     *rate.Limiter
	logger      *slog.Logger
	cfg         RateLimitConfig
	requests    int
	tokens      int
	mu          sync.Mutex
}

// NewRateLimiter creates a rate limiter with the given configuration.
// Zero-valued fields fall back to safe defaults.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	if cfg.TokensPerWindow <= 0 {
		cfg.TokensPerWindow = 60000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	var spacing *rate.Limiter
	if cfg.MinInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &RateLimiter{
		cfg:         cfg,
		spacing:     spacing,
		logger:      logger,
		windowStart: time.Now(),
	}
}

// Acquire blocks until the caller is permitted to issue one request consuming
// approximately estimatedTokens, or fails with ErrRateLimitExceeded in hard
// mode. The wait is a sleeping wait that honors context cancellation.
func (l *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	// Minimum spacing between requests, independent of the window counters.
	if l.spacing != nil {
		if err := l.spacing.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter canceled: %w", err)
		}
	}

	for {
		l.mu.Lock()
		l.resetIfElapsed()

		if l.admit(estimatedTokens) {
			l.requests++
			l.tokens += estimatedTokens
			l.mu.Unlock()
			return nil
		}

		wait := l.cfg.Window - time.Since(l.windowStart)
		l.mu.Unlock()

		if l.cfg.Hard {
			return fmt.Errorf("%w: window resets in %s", ErrRateLimitExceeded, wait.Round(time.Millisecond))
		}

		if wait <= 0 {
			continue
		}

		l.logger.Info("rate limiting: window budget reached, sleeping",
			"wait", wait.Round(time.Millisecond),
			"requests", l.cfg.RequestsPerWindow,
			"tokens", l.cfg.TokensPerWindow)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// admit reports whether one more request with estimatedTokens fits in the
// current window. Callers hold l.mu.
func (l *RateLimiter) admit(estimatedTokens int) bool {
	if l.requests >= l.cfg.RequestsPerWindow {
		return false
	}
	if estimatedTokens > 0 && l.tokens+estimatedTokens > l.cfg.TokensPerWindow {
		// A single request larger than the whole budget would never be
		// admitted; let it through on a fresh window rather than spin.
		return l.tokens == 0 && estimatedTokens > l.cfg.TokensPerWindow
	}
	return true
}

// resetIfElapsed resets both counters in full once the window has aged out.
// Callers hold l.mu.
func (l *RateLimiter) resetIfElapsed() {
	if time.Since(l.windowStart) >= l.cfg.Window {
		l.requests = 0
		l.tokens = 0
		l.windowStart = time.Now()
	}
}

// Counts returns the request and token counts in the current window.
func (l *RateLimiter) Counts() (requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests, l.tokens
}
