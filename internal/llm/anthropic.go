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
	registerProvider("anthropic", newAnthropicClient)
}

// anthropicClient implements Client for the Anthropic messages API.
// Documents are attached inline as base64 content blocks.
type anthropicClient struct {
	httpClient *http.Client
	limiter    *RateLimiter
	usage      *UsageTracker
	apiKey     string
	baseURL    string
	cfg        ProviderConfig
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cc ClientConfig) (Client, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	baseURL := cc.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &anthropicClient{
		apiKey:     cc.APIKey,
		baseURL:    baseURL,
		cfg:        cc.Provider,
		limiter:    cc.Limiter,
		usage:      cc.Usage,
		httpClient: newHTTPClient(cc.Timeout),
	}, nil
}

func (c *anthropicClient) Provider() string { return "anthropic" }

// Send replays the history plus the new prompt through the messages API.
func (c *anthropicClient) Send(ctx context.Context, history []Message, prompt Message) (RawReply, error) {
	const op = "send"

	outbound := append(append([]Message{}, history...), prompt)
	estimated := estimateMessageTokens(outbound) + c.cfg.MaxTokens
	if err := c.limiter.Acquire(ctx, estimated); err != nil {
		return RawReply{}, err
	}

	messages := make([]map[string]any, 0, len(outbound))
	for _, m := range outbound {
		content, err := anthropicContent(m)
		if err != nil {
			return RawReply{}, fatalErr("anthropic", op, err)
		}
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": content,
		})
	}

	requestBody := map[string]any{
		"model":       c.cfg.Model,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"messages":    messages,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", strings.NewReader(string(jsonBody)))
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawReply{}, wireErr("anthropic", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawReply{}, transientErr("anthropic", op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return RawReply{}, statusErr("anthropic", op, resp.StatusCode, body)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RawReply{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Content) == 0 {
		return RawReply{}, fatalErr("anthropic", op, fmt.Errorf("no content in response"))
	}

	text := response.Content[0].Text
	inputTokens := response.Usage.InputTokens
	outputTokens := response.Usage.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = estimateMessageTokens(outbound)
		outputTokens = EstimateTokens(text)
	}
	c.usage.Record(inputTokens, outputTokens, c.cfg.Model, "messages", CallLabel(ctx))

	return RawReply{
		Text:         text,
		Model:        response.Model,
		StopReason:   response.StopReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// anthropicContent serializes message parts into Anthropic content blocks.
func anthropicContent(m Message) ([]map[string]any, error) {
	blocks := make([]map[string]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Document == nil {
			blocks = append(blocks, map[string]any{
				"type": "text",
				"text": p.Text,
			})
			continue
		}

		doc := p.Document
		if doc.HasData() {
			blocks = append(blocks, map[string]any{
				"type": "document",
				"source": map[string]any{
					"type":       "base64",
					"media_type": doc.MediaType,
					"data":       doc.Base64(),
				},
			})
			continue
		}
		// Text-only document: fold the extracted text into a text block.
		blocks = append(blocks, map[string]any{
			"type": "text",
			"text": fmt.Sprintf("Document %s:\n%s", doc.Name, doc.Text),
		})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("message has no parts")
	}
	return blocks, nil
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
