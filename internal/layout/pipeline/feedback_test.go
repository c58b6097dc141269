package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/prompts"
	"lumen/internal/provider"
	"lumen/internal/provider/providertest"
)

const feedbackDoc = `<!DOCTYPE html><html><head></head><body>
<button id="start" class="text-xs">Start</button>
</body></html>`

func newFeedbackRepairer(t *testing.T, reasoner provider.Client) *FeedbackRepairer {
	t.Helper()
	store, err := prompts.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return NewFeedbackRepairer(reasoner, store)
}

func TestFeedbackRepair(t *testing.T) {
	repaired := `<!DOCTYPE html><html><head></head><body>
<!-- [ELEMENT #1] status:broken user_feedback:"too small" -->
<button id="start" class="text-2xl">Start</button>
</body></html>`
	reasoner := providertest.New(provider.TierReasoner, "reasoner-model").Reply(repaired)
	f := newFeedbackRepairer(t, reasoner)

	elements := []ElementFeedback{
		{Index: 1, Selector: "#start", Status: "broken", Comment: "too small"},
	}
	res := f.Repair(context.Background(), feedbackDoc, elements, "make everything larger")

	require.True(t, res.OK)
	assert.Contains(t, res.HTML, "text-2xl")
	assert.NotContains(t, res.HTML, "[ELEMENT #1]", "echoed annotations are stripped")

	require.Len(t, reasoner.Requests, 1)
	prompt := reasoner.Requests[0].Prompt
	assert.Contains(t, prompt, `[ELEMENT #1] selector:#start status:broken user_feedback:"too small"`)
	assert.Contains(t, prompt, "[GLOBAL FEEDBACK] make everything larger")
	assert.True(t, reasoner.Requests[0].HighToken)
}

func TestFeedbackRepairRejectsUnsafeScript(t *testing.T) {
	unsafe := `<!DOCTYPE html><html><head></head><body>
<button id="start">Start</button>
<script>fetch('/exfil')</script>
</body></html>`
	reasoner := providertest.New(provider.TierReasoner, "reasoner-model").Reply(unsafe)
	f := newFeedbackRepairer(t, reasoner)

	res := f.Repair(context.Background(), feedbackDoc,
		[]ElementFeedback{{Index: 1, Selector: "#start", Status: "broken"}}, "")

	assert.False(t, res.OK)
	assert.Equal(t, feedbackDoc, res.HTML, "unsafe rewrite never replaces the document")
	assert.Contains(t, res.Error, "forbidden API")
}

func TestFeedbackRepairRequiresFeedback(t *testing.T) {
	reasoner := providertest.New(provider.TierReasoner, "reasoner-model")
	f := newFeedbackRepairer(t, reasoner)

	res := f.Repair(context.Background(), feedbackDoc, nil, "  ")
	assert.False(t, res.OK)
	assert.Empty(t, reasoner.Requests)
}
