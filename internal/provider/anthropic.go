package provider

import (
	"bytes"
	"context"
	"encoding/base64"
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

// AnthropicClient implements the reasoner tier over the Anthropic messages
// API. It accepts image input and carries an optional high-token model
// variant for full document generation and rewrites.
type AnthropicClient struct {
	apiKey         string
	baseURL        string
	model          string
	highTokenModel string
	httpClient     *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAnthropicClient builds the reasoner-tier client from config.
func NewAnthropicClient(cfg config.ProviderConfig) *AnthropicClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicClient{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		model:          model,
		highTokenModel: cfg.HighTokenModel,
		httpClient:     &http.Client{Timeout: cfg.Timeout()},
	}
}

func (c *AnthropicClient) Tier() Tier              { return TierReasoner }
func (c *AnthropicClient) Model() string           { return c.model }
func (c *AnthropicClient) SupportsVision() bool    { return true }
func (c *AnthropicClient) SupportsGrounding() bool { return false }

type anthropicContentBlock struct {
	Type   string                 `json:"type"`
	Text   string                 `json:"text,omitempty"`
	Source *anthropicImageSource  `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the uniform response record.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) Response {
	start := time.Now()
	log := logging.S(logging.CategoryProvider)

	if c.apiKey == "" {
		return Failure(TierReasoner, c.model, ErrorMissingKey, ErrNoAPIKey, 0)
	}
	if req.UseSearch {
		return Failure(TierReasoner, c.model, ErrorInvalidResponse, ErrNoGrounding, 0)
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

	model := c.model
	if req.HighToken && c.highTokenModel != "" {
		model = c.highTokenModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	blocks := make([]anthropicContentBlock, 0, 1+len(req.Images))
	for _, img := range req.Images {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: sniffImageMime(img),
				Data:      base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: req.Prompt})

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
		Temperature: req.Temperature,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Failure(TierReasoner, model, ErrorInvalidResponse, fmt.Errorf("marshal request: %w", err), millis(start))
	}

	maxRetries := 3
	var lastErr error
	var lastKind ErrorKind

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return Failure(TierReasoner, model, ErrorNetwork, fmt.Errorf("create request: %w", err), millis(start))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

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
			return Failure(TierReasoner, model, ErrorInvalidResponse,
				fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody)), millis(start))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Failure(TierReasoner, model, ErrorInvalidResponse, fmt.Errorf("parse response: %w", err), millis(start))
		}
		if parsed.Error != nil {
			return Failure(TierReasoner, model, ErrorInvalidResponse,
				fmt.Errorf("API error: %s", parsed.Error.Message), millis(start))
		}

		var sb strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		content := strings.TrimSpace(sb.String())
		if content == "" {
			return Failure(TierReasoner, model, ErrorInvalidResponse, ErrEmptyResponse, millis(start))
		}

		out := Success(TierReasoner, model, content, Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		}, millis(start))

		if parsed.StopReason == "max_tokens" {
			out.Truncated = true
			log.Warnw("anthropic response truncated", "model", model, "content_len", len(content))
		}

		log.Debugw("anthropic complete", "model", model, "latency_ms", out.LatencyMS,
			"tokens", out.Usage.TotalTokens, "vision", len(req.Images) > 0)
		return out
	}

	if lastKind == "" {
		lastKind = ErrorNetwork
	}
	return Failure(TierReasoner, model, lastKind, fmt.Errorf("max retries exceeded: %w", lastErr), millis(start))
}
