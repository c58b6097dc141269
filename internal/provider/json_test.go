package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/provider"
	"lumen/internal/provider/providertest"
)

const (
	diagnosisTpl = "diagnose: {{ERROR}}\n{{OUTPUT}}"
	repairTpl    = "repair per {{DIAGNOSIS}}\nbroken: {{OUTPUT}}\noriginal: {{ORIGINAL}}"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.StripFences(tt.in))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose around", `Sure! Here it is: {"a":1} hope that helps`, `{"a":1}`},
		{"nested", `x {"a":{"b":[1,2]}} y`, `{"a":{"b":[1,2]}}`},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`},
		{"array", `the list: [1,2,3]`, `[1,2,3]`},
		{"unbalanced", `{"a":1`, ``},
		{"none", `no json here`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.ExtractJSONObject(tt.in))
		})
	}
}

func TestCompleteJSONFirstTry(t *testing.T) {
	client := providertest.New(provider.TierCheap, "m").Reply("```json\n{\"ok\":true}\n```")
	repairer := provider.NewRepairer(nil, true, 1, diagnosisTpl, repairTpl)

	var out struct {
		OK bool `json:"ok"`
	}
	resp := repairer.CompleteJSON(context.Background(), client, provider.Request{Prompt: "p"}, &out)

	require.True(t, resp.OK)
	assert.True(t, out.OK)
	assert.JSONEq(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 1, client.Calls())
}

// A missing comma is the canonical self-repair case: the first completion is
// malformed, the diagnosis names the defect, and the retried completion
// parses.
func TestCompleteJSONRepairsMissingComma(t *testing.T) {
	coder := providertest.New(provider.TierCoder, "coder-model").
		Reply(`{"complexity":"simple" "confidence":0.9}`).
		Reply(`{"complexity":"simple","confidence":0.9}`)
	cheap := providertest.New(provider.TierCheap, "cheap-model").
		Reply("missing comma between fields")

	repairer := provider.NewRepairer(cheap, true, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), coder, provider.Request{Prompt: "classify"}, &out)

	require.True(t, resp.OK)
	assert.Equal(t, "simple", out["complexity"])
	// Whatever is returned on success must itself parse.
	assert.True(t, json.Valid([]byte(resp.Content)))

	// The diagnosis went to the cheap tier, and the repair request carried
	// both the diagnosis and a raised reasoning effort for the coder tier.
	require.Equal(t, 1, cheap.Calls())
	require.Equal(t, 2, coder.Calls())
	repairReq := coder.Requests[1]
	assert.Contains(t, repairReq.Prompt, "missing comma between fields")
	assert.Contains(t, repairReq.Prompt, `{"complexity":"simple" "confidence":0.9}`)
	assert.Equal(t, "high", repairReq.ReasoningEffort)
}

func TestCompleteJSONDisabledReturnsParseError(t *testing.T) {
	client := providertest.New(provider.TierCheap, "m").Reply(`not json`)
	repairer := provider.NewRepairer(nil, false, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), client, provider.Request{Prompt: "p"}, &out)

	assert.False(t, resp.OK)
	assert.Empty(t, resp.Content)
	assert.Contains(t, resp.Error, "invalid JSON")
	assert.Equal(t, 1, client.Calls())
}

func TestCompleteJSONExhaustedReturnsLastParseError(t *testing.T) {
	coder := providertest.New(provider.TierCoder, "m").
		Reply(`still broken {`).
		Reply(`even more broken {{`)
	cheap := providertest.New(provider.TierCheap, "cheap").Reply("diagnosis")
	repairer := provider.NewRepairer(cheap, true, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), coder, provider.Request{Prompt: "p"}, &out)

	assert.False(t, resp.OK)
	assert.Equal(t, provider.ErrorInvalidResponse, resp.ErrorKind)
	assert.Contains(t, resp.Error, "invalid JSON")
	assert.Equal(t, 2, coder.Calls())
}

func TestCompleteJSONNoReasoningEffortOffCoder(t *testing.T) {
	reasoner := providertest.New(provider.TierReasoner, "m").
		Reply(`broken {`).
		Reply(`{"a":1}`)
	cheap := providertest.New(provider.TierCheap, "cheap").Reply("diagnosis")
	repairer := provider.NewRepairer(cheap, true, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), reasoner, provider.Request{Prompt: "p"}, &out)

	require.True(t, resp.OK)
	assert.Empty(t, reasoner.Requests[1].ReasoningEffort)
}

func TestCompleteJSONDiagnosisFailureStillRepairs(t *testing.T) {
	coder := providertest.New(provider.TierCoder, "m").
		Reply(`broken {`).
		Reply(`{"a":1}`)
	cheap := providertest.New(provider.TierCheap, "cheap").
		Fail(provider.ErrorNetwork, errors.New("offline"))
	repairer := provider.NewRepairer(cheap, true, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), coder, provider.Request{Prompt: "p"}, &out)

	// The raw parse error substitutes for the diagnosis.
	require.True(t, resp.OK)
	assert.Contains(t, coder.Requests[1].Prompt, "invalid JSON")
}

func TestCompleteJSONPropagatesProviderFailure(t *testing.T) {
	client := providertest.New(provider.TierCheap, "m").
		Fail(provider.ErrorQuota, provider.ErrQuotaExhausted)
	repairer := provider.NewRepairer(nil, true, 1, diagnosisTpl, repairTpl)

	var out map[string]any
	resp := repairer.CompleteJSON(context.Background(), client, provider.Request{Prompt: "p"}, &out)

	assert.False(t, resp.OK)
	assert.Equal(t, provider.ErrorQuota, resp.ErrorKind)
}
