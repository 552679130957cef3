package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitford/underwriter/internal/docs"
)

func testClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		Provider: ProviderConfig{Model: "claude-3-5-sonnet-latest", MaxTokens: 1024},
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Timeout:  5 * time.Second,
		Limiter:  NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1000, TokensPerWindow: 10000000}, nil),
		Usage:    NewUsageTracker(nil),
	}
}

func TestNewAnthropicClient(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		client, err := newAnthropicClient(testClientConfig(""))
		require.NoError(t, err)
		assert.Equal(t, "anthropic", client.Provider())
	})

	t.Run("missing API key", func(t *testing.T) {
		cc := testClientConfig("")
		cc.APIKey = ""
		_, err := newAnthropicClient(cc)
		require.Error(t, err)
	})
}

func TestAnthropicSend(t *testing.T) {
	t.Run("serializes documents as base64 content blocks", func(t *testing.T) {
		var captured map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]any{{"type": "text", "text": "reply text"}},
				"model":   "claude-3-5-sonnet-latest",
				"usage":   map[string]int{"input_tokens": 120, "output_tokens": 30},
			})
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		client, err := newAnthropicClient(cc)
		require.NoError(t, err)

		pdf := []byte("%PDF-1.4 fake statement")
		prompt := UserMessage(
			DocumentPart(docs.NewBinary("jan.pdf", "application/pdf", pdf)),
			TextPart("average daily balance?"),
		)

		reply, err := client.Send(context.Background(), nil, prompt)
		require.NoError(t, err)
		assert.Equal(t, "reply text", reply.Text)
		assert.Equal(t, 120, reply.InputTokens)
		assert.Equal(t, 30, reply.OutputTokens)

		messages := captured["messages"].([]any)
		require.Len(t, messages, 1)
		content := messages[0].(map[string]any)["content"].([]any)
		require.Len(t, content, 2)

		docBlock := content[0].(map[string]any)
		assert.Equal(t, "document", docBlock["type"])
		source := docBlock["source"].(map[string]any)
		assert.Equal(t, "base64", source["type"])
		assert.Equal(t, "application/pdf", source["media_type"])
		assert.Equal(t, base64.StdEncoding.EncodeToString(pdf), source["data"])

		textBlock := content[1].(map[string]any)
		assert.Equal(t, "text", textBlock["type"])
		assert.Equal(t, "average daily balance?", textBlock["text"])

		// Provider-reported usage lands in the shared tracker.
		totals := cc.Usage.Totals("claude-3-5-sonnet-latest")
		assert.Equal(t, 120, totals.InputTokens)
		assert.Equal(t, 30, totals.OutputTokens)
	})

	t.Run("replays history with roles", func(t *testing.T) {
		var captured map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]any{{"type": "text", "text": "ok"}},
			})
		}))
		defer server.Close()

		client, err := newAnthropicClient(testClientConfig(server.URL))
		require.NoError(t, err)

		history := []Message{
			UserMessage(TextPart("first")),
			AssistantMessage("first answer"),
		}
		_, err = client.Send(context.Background(), history, UserMessage(TextPart("second")))
		require.NoError(t, err)

		messages := captured["messages"].([]any)
		require.Len(t, messages, 3)
		assert.Equal(t, "user", messages[0].(map[string]any)["role"])
		assert.Equal(t, "assistant", messages[1].(map[string]any)["role"])
		assert.Equal(t, "user", messages[2].(map[string]any)["role"])
	})

	t.Run("429 is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
		}))
		defer server.Close()

		client, err := newAnthropicClient(testClientConfig(server.URL))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.Error(t, err)
		assert.True(t, IsRetryable(err), "429 must map to a transient error")
	})

	t.Run("401 is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": {"type": "authentication_error"}}`))
		}))
		defer server.Close()

		client, err := newAnthropicClient(testClientConfig(server.URL))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.Error(t, err)
		assert.False(t, IsRetryable(err), "auth failures must not be retried")
	})

	t.Run("usage estimated when provider omits it", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]any{{"type": "text", "text": "a somewhat longer reply body"}},
			})
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		client, err := newAnthropicClient(cc)
		require.NoError(t, err)

		reply, err := client.Send(context.Background(), nil, UserMessage(TextPart("a prompt with several words in it")))
		require.NoError(t, err)
		assert.Greater(t, reply.InputTokens, 0)
		assert.Greater(t, reply.OutputTokens, 0)
		assert.Greater(t, cc.Usage.Totals("").TotalTokens, 0)
	})
}
