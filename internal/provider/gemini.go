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

// GeminiClient implements the cheap tier over the Gemini REST API. It is the
// only tier with grounded search; it also accepts inline image input.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiClient builds the cheap-tier client from config.
func NewGeminiClient(cfg config.ProviderConfig) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

func (c *GeminiClient) Tier() Tier              { return TierCheap }
func (c *GeminiClient) Model() string           { return c.model }
func (c *GeminiClient) SupportsVision() bool    { return true }
func (c *GeminiClient) SupportsGrounding() bool { return true }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		FinishReason      string        `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
			WebSearchQueries []string `json:"webSearchQueries"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the uniform response record.
func (c *GeminiClient) Complete(ctx context.Context, req Request) Response {
	start := time.Now()
	log := logging.S(logging.CategoryProvider)

	if c.apiKey == "" {
		return Failure(TierCheap, c.model, ErrorMissingKey, ErrNoAPIKey, 0)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// Rate limiting: at least 100ms between requests to this back-end.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	parts := []geminiPart{{Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: sniffImageMime(img),
			Data:     base64.StdEncoding.EncodeToString(img),
		}})
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.UseSearch {
		body.Tools = append(body.Tools, geminiTool{GoogleSearch: &struct{}{}})
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	// Retry loop for rate limits.
	maxRetries := 3
	var lastErr error
	var lastKind ErrorKind

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(body)
		if err != nil {
			return Failure(TierCheap, c.model, ErrorInvalidResponse, fmt.Errorf("marshal request: %w", err), millis(start))
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return Failure(TierCheap, c.model, ErrorNetwork, fmt.Errorf("create request: %w", err), millis(start))
		}
		httpReq.Header.Set("Content-Type", "application/json")

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
			return Failure(TierCheap, c.model, ErrorInvalidResponse,
				fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody)), millis(start))
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Failure(TierCheap, c.model, ErrorInvalidResponse, fmt.Errorf("parse response: %w", err), millis(start))
		}
		if parsed.Error != nil {
			return Failure(TierCheap, c.model, ErrorInvalidResponse,
				fmt.Errorf("API error: %s", parsed.Error.Message), millis(start))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return Failure(TierCheap, c.model, ErrorInvalidResponse, ErrEmptyResponse, millis(start))
		}

		var sb strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		content := strings.TrimSpace(sb.String())
		if content == "" {
			return Failure(TierCheap, c.model, ErrorInvalidResponse, ErrEmptyResponse, millis(start))
		}

		out := Success(TierCheap, c.model, content, Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}, millis(start))

		if parsed.Candidates[0].FinishReason == "MAX_TOKENS" {
			out.Truncated = true
			log.Warnw("gemini response truncated", "model", c.model, "content_len", len(content))
		}

		if gm := parsed.Candidates[0].GroundingMetadata; gm != nil {
			var sources []string
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web != nil && chunk.Web.URI != "" {
					sources = append(sources, chunk.Web.URI)
				}
			}
			if len(sources) > 0 {
				out.Metadata = map[string]any{
					"grounding_sources": sources,
					"search_queries":    gm.WebSearchQueries,
				}
			}
		}

		log.Debugw("gemini complete", "model", c.model, "latency_ms", out.LatencyMS,
			"tokens", out.Usage.TotalTokens, "grounded", req.UseSearch)
		return out
	}

	if lastKind == "" {
		lastKind = ErrorNetwork
	}
	return Failure(TierCheap, c.model, lastKind, fmt.Errorf("max retries exceeded: %w", lastErr), millis(start))
}

func millis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// sniffImageMime returns the MIME type for screenshot bytes. The sandbox
// always captures PNG; JPEG is detected for operator-supplied images.
func sniffImageMime(data []byte) string {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	return "image/png"
}
