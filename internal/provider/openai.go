package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lumen/internal/config"
	"lumen/internal/logging"
)

// OpenAIClient implements the coder tier over an OpenAI-compatible
// chat-completions endpoint. It is the only tier with a reasoning-effort
// knob, which the JSON repair stage raises for surgical fixes.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient builds the coder-tier client from config.
func NewOpenAIClient(cfg config.ProviderConfig) *OpenAIClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5.1-codex-mini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

func (c *OpenAIClient) Tier() Tier              { return TierCoder }
func (c *OpenAIClient) Model() string           { return c.model }
func (c *OpenAIClient) SupportsVision() bool    { return false }
func (c *OpenAIClient) SupportsGrounding() bool { return false }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model           string          `json:"model"`
	Messages        []openAIMessage `json:"messages"`
	MaxTokens       int             `json:"max_completion_tokens,omitempty"`
	Temperature     float64         `json:"temperature,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the uniform response record.
// Vision and grounding requests fail cleanly: this back-end has neither.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) Response {
	start := time.Now()
	log := logging.S(logging.CategoryProvider)

	if c.apiKey == "" {
		return Failure(TierCoder, c.model, ErrorMissingKey, ErrNoAPIKey, 0)
	}
	if len(req.Images) > 0 {
		return Failure(TierCoder, c.model, ErrorInvalidResponse, ErrNoVision, 0)
	}
	if req.UseSearch {
		return Failure(TierCoder, c.model, ErrorInvalidResponse, ErrNoGrounding, 0)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := openAIRequest{
		Model:           c.model,
		Messages:        messages,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		ReasoningEffort: req.ReasoningEffort,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Failure(TierCoder, c.model, ErrorInvalidResponse, fmt.Errorf("marshal request: %w", err), millis(start))
	}

	maxRetries := 3
	var lastErr error
	var lastKind ErrorKind

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return Failure(TierCoder, c.model, ErrorNetwork, fmt.Errorf("create request: %w", err), millis(start))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			lastKind = ErrorNetwork
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			lastKind = ErrorNetwork
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrQuotaExhausted
			lastKind = ErrorQuota
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Failure(TierCoder, c.model, ErrorInvalidResponse,
				fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody)), millis(start))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Failure(TierCoder, c.model, ErrorInvalidResponse, fmt.Errorf("parse response: %w", err), millis(start))
		}
		if parsed.Error != nil {
			return Failure(TierCoder, c.model, ErrorInvalidResponse,
				fmt.Errorf("API error: %s", parsed.Error.Message), millis(start))
		}
		if len(parsed.Choices) == 0 {
			return Failure(TierCoder, c.model, ErrorInvalidResponse, ErrEmptyResponse, millis(start))
		}

		content := strings.TrimSpace(parsed.Choices[0].Message.Content)
		if content == "" {
			return Failure(TierCoder, c.model, ErrorInvalidResponse, ErrEmptyResponse, millis(start))
		}

		out := Success(TierCoder, c.model, content, Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}, millis(start))

		if parsed.Choices[0].FinishReason == "length" {
			out.Truncated = true
			log.Warnw("openai response truncated", "model", c.model, "content_len", len(content))
		}

		log.Debugw("openai complete", "model", c.model, "latency_ms", out.LatencyMS,
			"tokens", out.Usage.TotalTokens, "reasoning_effort", req.ReasoningEffort)
		return out
	}

	if lastKind == "" {
		lastKind = ErrorNetwork
	}
	return Failure(TierCoder, c.model, lastKind, fmt.Errorf("max retries exceeded: %w", lastErr), millis(start))
}
