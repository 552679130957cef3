package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func init() {
	registerProvider("google", newGoogleClient)
}

// googleClient implements Client for the Gemini generateContent API.
// Documents are attached as inline_data parts; history is replayed with the
// user/model role mapping the API expects.
type googleClient struct {
	httpClient *http.Client
	limiter    *RateLimiter
	usage      *UsageTracker
	apiKey     string
	baseURL    string
	cfg        ProviderConfig
}

// newGoogleClient creates a new Google generative language API client.
func newGoogleClient(cc ClientConfig) (Client, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	baseURL := cc.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	return &googleClient{
		apiKey:     cc.APIKey,
		baseURL:    baseURL,
		cfg:        cc.Provider,
		limiter:    cc.Limiter,
		usage:      cc.Usage,
		httpClient: newHTTPClient(cc.Timeout),
	}, nil
}

func (c *googleClient) Provider() string { return "google" }

// Send replays the history plus the new prompt through generateContent.
func (c *googleClient) Send(ctx context.Context, history []Message, prompt Message) (RawReply, error) {
	const op = "send"

	outbound := append(append([]Message{}, history...), prompt)
	estimated := estimateMessageTokens(outbound) + c.cfg.MaxTokens
	if err := c.limiter.Acquire(ctx, estimated); err != nil {
		return RawReply{}, err
	}

	contents := make([]map[string]any, 0, len(outbound))
	for _, m := range outbound {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": googleParts(m),
		})
	}

	requestBody := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     c.cfg.Temperature,
			"maxOutputTokens": c.cfg.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, c.cfg.Model, url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(jsonBody)))
	if err != nil {
		return RawReply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawReply{}, wireErr("google", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawReply{}, transientErr("google", op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return RawReply{}, statusErr("google", op, resp.StatusCode, body)
	}

	var response googleResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RawReply{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return RawReply{}, fatalErr("google", op, fmt.Errorf("no candidates in response"))
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := b.String()

	inputTokens := response.UsageMetadata.PromptTokenCount
	outputTokens := response.UsageMetadata.CandidatesTokenCount
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = estimateMessageTokens(outbound)
		outputTokens = EstimateTokens(text)
	}
	c.usage.Record(inputTokens, outputTokens, c.cfg.Model, "generateContent", CallLabel(ctx))

	return RawReply{
		Text:         text,
		Model:        c.cfg.Model,
		StopReason:   response.Candidates[0].FinishReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// googleParts serializes message parts into Gemini request parts.
func googleParts(m Message) []map[string]any {
	parts := make([]map[string]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Document == nil {
			parts = append(parts, map[string]any{"text": p.Text})
			continue
		}

		doc := p.Document
		if doc.HasData() {
			parts = append(parts, map[string]any{
				"inline_data": map[string]any{
					"mime_type": doc.MediaType,
					"data":      doc.Base64(),
				},
			})
			continue
		}
		parts = append(parts, map[string]any{
			"text": fmt.Sprintf("Document %s:\n%s", doc.Name, doc.Text),
		})
	}
	return parts
}

// googleResponse represents the generateContent response structure.
type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
