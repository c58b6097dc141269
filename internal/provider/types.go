// Package provider gives lumen a uniform completion contract over three
// heterogeneous LLM back-ends: a cheap/fast tier, a code-oriented tier, and
// a reasoning-oriented tier. Every call returns the same Response record
// regardless of which wire protocol served it.
package provider

import (
	"context"
	"errors"
)

// Tier identifies a back-end by its role, not its vendor.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierCoder    Tier = "coder"
	TierReasoner Tier = "reasoner"
)

// ErrorKind is the uniform provider error taxonomy.
type ErrorKind string

const (
	ErrorNone            ErrorKind = ""
	ErrorMissingKey      ErrorKind = "missing_key"
	ErrorNetwork         ErrorKind = "network"
	ErrorQuota           ErrorKind = "quota"
	ErrorInvalidResponse ErrorKind = "invalid_response"
	ErrorTruncated       ErrorKind = "truncated"
)

// Sentinel errors surfaced by clients.
var (
	ErrNoAPIKey       = errors.New("API key not configured")
	ErrNoVision       = errors.New("back-end does not accept image input")
	ErrNoGrounding    = errors.New("back-end does not support grounded search")
	ErrEmptyResponse  = errors.New("no completion returned")
	ErrQuotaExhausted = errors.New("rate limit exceeded (429)")
)

// Usage carries token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the uniform record returned by every model call.
// Invariant: OK=false implies Content=="" and Error non-empty; OK=true
// implies Content non-empty.
type Response struct {
	Content   string         `json:"content"`
	Provider  Tier           `json:"provider"`
	Model     string         `json:"model"`
	Usage     Usage          `json:"usage"`
	LatencyMS int64          `json:"latency_ms"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Success builds a valid Response, normalizing the token total.
func Success(tier Tier, model, content string, usage Usage, latencyMS int64) Response {
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return Response{
		Content:   content,
		Provider:  tier,
		Model:     model,
		Usage:     usage,
		LatencyMS: latencyMS,
		OK:        true,
	}
}

// Failure builds an error Response. Content is always empty on failure.
func Failure(tier Tier, model string, kind ErrorKind, err error, latencyMS int64) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{
		Provider:  tier,
		Model:     model,
		LatencyMS: latencyMS,
		OK:        false,
		Error:     msg,
		ErrorKind: kind,
	}
}

// Request is the uniform call shape handed to any client.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int

	// Images attaches PNG/JPEG bytes for vision-capable back-ends.
	Images [][]byte

	// UseSearch attaches the grounded-search tool where supported.
	UseSearch bool

	// ReasoningEffort tunes the coder tier ("low", "medium", "high").
	// Other tiers ignore it.
	ReasoningEffort string

	// HighToken selects the long-output reasoning model variant.
	HighToken bool
}

// Client is one back-end. Complete never panics and never returns a Go
// error: all failure detail travels inside the Response envelope so callers
// can degrade uniformly.
type Client interface {
	Tier() Tier
	Model() string
	Complete(ctx context.Context, req Request) Response
	SupportsVision() bool
	SupportsGrounding() bool
}

// Set bundles the three tiers for the router and pipeline.
type Set struct {
	Cheap    Client
	Coder    Client
	Reasoner Client
}

// ForTier resolves a tier to its client, defaulting to cheap.
func (s Set) ForTier(t Tier) Client {
	switch t {
	case TierCoder:
		return s.Coder
	case TierReasoner:
		return s.Reasoner
	default:
		return s.Cheap
	}
}
