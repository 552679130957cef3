package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mwhitford/underwriter/internal/llm"
	"github.com/mwhitford/underwriter/internal/storage"
)

// envKeys maps provider id to the conventional API key environment variable,
// checked when the config file carries no credential.
var envKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// createFactory builds the client factory from configuration. This function
// is shared by every command that talks to a provider.
func createFactory(sink llm.UsageSink) (*llm.Factory, error) {
	keys := make(map[string]string)
	for _, provider := range llm.Providers() {
		// Check viper first, then environment variable
		key := viper.GetString(fmt.Sprintf("llm.%s_api_key", provider))
		if key == "" {
			key = os.Getenv(envKeys[provider])
		}
		if key != "" {
			keys[provider] = key
		}
	}

	limits := make(map[string]llm.RateLimitConfig)
	for _, provider := range llm.Providers() {
		prefix := fmt.Sprintf("llm.rate_limits.%s", provider)
		if !viper.IsSet(prefix + ".requests_per_minute") {
			continue
		}
		limits[provider] = llm.RateLimitConfig{
			RequestsPerWindow: viper.GetInt(prefix + ".requests_per_minute"),
			TokensPerWindow:   viper.GetInt(prefix + ".tokens_per_minute"),
			MinInterval:       viper.GetDuration(prefix + ".min_interval"),
		}
	}

	timeout := viper.GetDuration("llm.timeout")
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return llm.NewFactory(llm.FactoryConfig{
		APIKeys:    keys,
		RateLimits: limits,
		Logger:     slog.Default(),
		UsageSink:  sink,
		Timeout:    timeout,
	}), nil
}

// openUsageStore opens the usage ledger at the configured path and brings
// its schema up to date.
func openUsageStore(ctx context.Context) (*storage.UsageStore, error) {
	dbPath := viper.GetString("storage.database")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "underwriter", "usage.db")
	}

	store, err := storage.NewUsageStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate usage ledger: %w", err)
	}
	return store, nil
}
