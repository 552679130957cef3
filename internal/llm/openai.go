package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func init() {
	registerProvider("openai", newOpenAIClient)
}

// openAIClient implements Client for the OpenAI chat completions API. The
// API takes text-only context, so document parts must carry pre-extracted
// text; it is folded into the message content.
type openAIClient struct {
	httpClient *http.Client
	limiter    *RateLimiter
	usage      *UsageTracker
	apiKey     string
	baseURL    string
	cfg        ProviderConfig
}

// newOpenAIClient creates a new OpenAI API client.
func newOpenAIClient(cc ClientConfig) (Client, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	baseURL := cc.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	return &openAIClient{
		apiKey:     cc.APIKey,
		baseURL:    baseURL,
		cfg:        cc.Provider,
		limiter:    cc.Limiter,
		usage:      cc.Usage,
		httpClient: newHTTPClient(cc.Timeout),
	}, nil
}

func (c *openAIClient) Provider() string { return "openai" }

// Send replays the history plus the new prompt through chat completions.
func (c *openAIClient) Send(ctx context.Context, history []Message, prompt Message) (RawReply, error) {
	const op = "send"

	outbound := append(append([]Message{}, history...), prompt)
	estimated := estimateMessageTokens(outbound) + c.cfg.MaxTokens
	if err := c.limiter.Acquire(ctx, estimated); err != nil {
		return RawReply{}, err
	}

	messages := make([]map[string]string, 0, len(outbound))
	for _, m := range outbound {
		content, err := openAIContent(m)
		if err != nil {
			return RawReply{}, fatalErr("openai", op, err)
		}
		messages = append(messages, map[string]string{
			"role":    string(m.Role),
			"content": content,
		})
	}

	requestBody := map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", strings.NewReader(string(jsonBody)))
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawReply{}, wireErr("openai", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawReply{}, transientErr("openai", op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return RawReply{}, statusErr("openai", op, resp.StatusCode, body)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RawReply{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Choices) == 0 {
		return RawReply{}, fatalErr("openai", op, fmt.Errorf("no completion choices returned"))
	}

	text := response.Choices[0].Message.Content
	inputTokens := response.Usage.PromptTokens
	outputTokens := response.Usage.CompletionTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = estimateMessageTokens(outbound)
		outputTokens = EstimateTokens(text)
	}
	c.usage.Record(inputTokens, outputTokens, c.cfg.Model, "chat/completions", CallLabel(ctx))

	return RawReply{
		Text:         text,
		Model:        response.Model,
		StopReason:   response.Choices[0].FinishReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// openAIContent flattens message parts into a single content string. Binary
// documents have no representation in chat completions; the ingestion layer
// must supply extracted text for this provider.
func openAIContent(m Message) (string, error) {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Document == nil {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p.Text)
			continue
		}

		doc := p.Document
		if doc.Text == "" {
			return "", fmt.Errorf("document %s has no extracted text; openai requires text input", doc.Name)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %s:\n%s", doc.Name, doc.Text)
	}
	return b.String(), nil
}

// openAIResponse represents the OpenAI API response structure.
type openAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
