package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/skim/cleaner"
	"github.com/use-agent/skim/models"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

// Client is a lightweight OpenAI-compatible chat completion client used for
// the summary and json formats. It uses net/http directly; no SDK needed.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// Options configures a Client.
type Options struct {
	BaseURL   string // e.g. "https://api.openai.com/v1"
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int // content budget per call; 0 disables truncation
}

// NewClient creates a new LLM client. A nil httpClient gets one with
// opts.Timeout.
func NewClient(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
	}
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatErrorResponse captures an API error from the LLM provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Extract asks the model for a JSON document built from content. At least
// one of prompt and schema is set. The decoded value is returned; schema
// validation is the caller's job.
func (c *Client) Extract(ctx context.Context, content, prompt string, schema json.RawMessage) (any, error) {
	raw, err := c.complete(ctx, buildExtractPrompt(prompt, schema), content, true)
	if err != nil {
		return nil, err
	}
	raw = stripFences(raw)

	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, models.NewScrapeError(models.KindExtractionFailure, "LLM returned invalid JSON", err)
	}
	return out, nil
}

// Summarize returns a short prose summary of content.
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	out, err := c.complete(ctx, summaryPrompt, content, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// complete runs a single system+user chat completion and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, system, content string, jsonMode bool) (string, error) {
	if c.apiKey == "" {
		return "", models.NewScrapeError(models.KindExtractionFailure, "no LLM API key configured", nil)
	}
	if truncated, cut := cleaner.TruncateTokens(content, c.maxTokens); cut {
		slog.Debug("llm: content truncated", "max_tokens", c.maxTokens)
		content = truncated
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: content},
		},
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewScrapeError(models.KindExtractionFailure, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", models.NewScrapeError(models.KindExtractionFailure, "failed to read LLM response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyLLMError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", models.NewScrapeError(models.KindExtractionFailure, "failed to parse LLM response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", models.NewScrapeError(models.KindExtractionFailure, "LLM returned no choices", nil)
	}

	slog.Debug("llm: completion",
		"model", c.model,
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return chatResp.Choices[0].Message.Content, nil
}

const summaryPrompt = `You summarize web pages. Write a concise summary (at most five sentences) of the provided Markdown content.

Rules:
- Plain prose, no headings or bullet lists.
- Use only information present in the content.`

// buildExtractPrompt creates the system prompt for structured extraction.
func buildExtractPrompt(prompt string, schema json.RawMessage) string {
	var b strings.Builder
	b.WriteString("You are a structured data extraction assistant. Extract information from the provided content and return it as a single JSON value.\n")
	if prompt != "" {
		b.WriteString("\nInstructions:\n")
		b.WriteString(prompt)
		b.WriteString("\n")
	}
	if len(schema) > 0 {
		b.WriteString("\nThe JSON must match this schema:\n")
		b.Write(schema)
		b.WriteString("\n")
	}
	b.WriteString(`
Rules:
- Return ONLY valid JSON, no markdown fences or explanation.
- If a field cannot be found in the content, use null.`)
	return b.String()
}

// stripFences removes a ```json fence some models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// classifyLLMError maps provider status codes to error kinds.
func classifyLLMError(statusCode int, body []byte) *models.ScrapeError {
	var errResp chatErrorResponse
	msg := "LLM API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return models.NewScrapeError(models.KindUpstreamOverload, "LLM rate limited: "+msg, nil)
	default:
		return models.NewScrapeError(models.KindExtractionFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
