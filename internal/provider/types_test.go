package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"lumen/internal/config"
)

func cfgWithKey() config.ProviderConfig {
	return config.ProviderConfig{APIKey: "test-key", Model: "test-model", TimeoutSec: 5}
}

func cfgNoKey() config.ProviderConfig {
	return config.ProviderConfig{Model: "test-model", TimeoutSec: 5}
}

func TestSuccessNormalizesTotal(t *testing.T) {
	resp := Success(TierCheap, "m", "hello", Usage{PromptTokens: 7, CompletionTokens: 3}, 12)
	assert.True(t, resp.OK)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Empty(t, resp.Error)
}

func TestSuccessKeepsReportedTotal(t *testing.T) {
	resp := Success(TierCoder, "m", "x", Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 5}, 0)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestFailureHasNoContent(t *testing.T) {
	resp := Failure(TierReasoner, "m", ErrorQuota, ErrQuotaExhausted, 3)
	assert.False(t, resp.OK)
	assert.Empty(t, resp.Content)
	assert.Equal(t, ErrQuotaExhausted.Error(), resp.Error)
	assert.Equal(t, ErrorQuota, resp.ErrorKind)

	nilErr := Failure(TierCheap, "m", ErrorNetwork, nil, 0)
	assert.Equal(t, "unknown error", nilErr.Error)
}

func TestSetForTier(t *testing.T) {
	cheap := NewGeminiClient(cfgWithKey())
	coder := NewOpenAIClient(cfgWithKey())
	reasoner := NewAnthropicClient(cfgWithKey())
	set := Set{Cheap: cheap, Coder: coder, Reasoner: reasoner}

	assert.Same(t, cheap, set.ForTier(TierCheap).(*GeminiClient))
	assert.Same(t, coder, set.ForTier(TierCoder).(*OpenAIClient))
	assert.Same(t, reasoner, set.ForTier(TierReasoner).(*AnthropicClient))
	// Unknown tiers fall back to cheap.
	assert.Same(t, cheap, set.ForTier(Tier("other")).(*GeminiClient))
}

func TestMissingKeyFailsWithoutNetwork(t *testing.T) {
	tests := []struct {
		name   string
		client Client
	}{
		{"gemini", NewGeminiClient(cfgNoKey())},
		{"openai", NewOpenAIClient(cfgNoKey())},
		{"anthropic", NewAnthropicClient(cfgNoKey())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.client.Complete(context.Background(), Request{Prompt: "hi"})
			assert.False(t, resp.OK)
			assert.Equal(t, ErrorMissingKey, resp.ErrorKind)
			assert.Empty(t, resp.Content)
		})
	}
}

func TestCapabilityRejections(t *testing.T) {
	coder := NewOpenAIClient(cfgWithKey())
	resp := coder.Complete(context.Background(), Request{Prompt: "p", Images: [][]byte{{1}}})
	assert.False(t, resp.OK)
	assert.Equal(t, ErrNoVision.Error(), resp.Error)

	resp = coder.Complete(context.Background(), Request{Prompt: "p", UseSearch: true})
	assert.False(t, resp.OK)
	assert.Equal(t, ErrNoGrounding.Error(), resp.Error)

	reasoner := NewAnthropicClient(cfgWithKey())
	resp = reasoner.Complete(context.Background(), Request{Prompt: "p", UseSearch: true})
	assert.False(t, resp.OK)
	assert.Equal(t, ErrNoGrounding.Error(), resp.Error)
}

func TestSniffImageMime(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	png := []byte{0x89, 'P', 'N', 'G'}
	assert.Equal(t, "image/jpeg", sniffImageMime(jpeg))
	assert.Equal(t, "image/png", sniffImageMime(png))
	assert.Equal(t, "image/png", sniffImageMime(nil))
}
