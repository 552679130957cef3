package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitford/underwriter/internal/docs"
)

func TestOpenAISend(t *testing.T) {
	t.Run("folds extracted text into the prompt", func(t *testing.T) {
		var captured map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"model": "gpt-4o-mini",
				"choices": []map[string]any{{
					"message":       map[string]any{"role": "assistant", "content": "gpt reply"},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 55, "completion_tokens": 9},
			})
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		cc.Provider = ProviderConfig{Model: "gpt-4o-mini", MaxTokens: 512}
		client, err := newOpenAIClient(cc)
		require.NoError(t, err)

		prompt := UserMessage(
			DocumentPart(docs.NewText("jan.txt", "01/02 DEPOSIT 500.00\n01/03 NSF FEE 35.00")),
			TextPart("count NSF fees"),
		)

		reply, err := client.Send(context.Background(), nil, prompt)
		require.NoError(t, err)
		assert.Equal(t, "gpt reply", reply.Text)
		assert.Equal(t, 55, reply.InputTokens)
		assert.Equal(t, 9, reply.OutputTokens)

		messages := captured["messages"].([]any)
		require.Len(t, messages, 1)
		content := messages[0].(map[string]any)["content"].(string)
		assert.Contains(t, content, "Document jan.txt:")
		assert.Contains(t, content, "NSF FEE 35.00")
		assert.Contains(t, content, "count NSF fees")
	})

	t.Run("binary document without extracted text is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("request must not reach the wire")
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		client, err := newOpenAIClient(cc)
		require.NoError(t, err)

		prompt := UserMessage(
			DocumentPart(docs.NewBinary("jan.pdf", "application/pdf", []byte("%PDF"))),
			TextPart("count NSF fees"),
		)
		_, err = client.Send(context.Background(), nil, prompt)
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
		assert.Contains(t, err.Error(), "no extracted text")
	})

	t.Run("429 is transient and 400 is fatal", func(t *testing.T) {
		status := http.StatusTooManyRequests
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		client, err := newOpenAIClient(cc)
		require.NoError(t, err)

		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.Error(t, err)
		assert.True(t, IsRetryable(err))

		status = http.StatusBadRequest
		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})

	t.Run("rate limiter is consulted before the wire call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{
					"message": map[string]any{"content": "ok"},
				}},
			})
		}))
		defer server.Close()

		cc := testClientConfig(server.URL)
		cc.Limiter = NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, TokensPerWindow: 1000000, Hard: true}, nil)
		client, err := newOpenAIClient(cc)
		require.NoError(t, err)

		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), nil, UserMessage(TextPart("hi")))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
	})
}
