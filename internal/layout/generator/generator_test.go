package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/prompts"
	"lumen/internal/provider"
	"lumen/internal/provider/providertest"
)

const goodHTML = `<!DOCTYPE html>
<html>
<head><title>t</title></head>
<body><div id="main">hi</div></body>
</html>`

func newGenerator(t *testing.T, reasoner provider.Client) *Generator {
	t.Helper()
	store, err := prompts.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return New(reasoner, store)
}

func TestExtractHTML(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantErr string
	}{
		{"clean document", goodHTML, true, ""},
		{"fenced", "```html\n" + goodHTML + "\n```", true, ""},
		{"prose preamble", "Sure, here's the page!\n" + goodHTML, true, ""},
		{"missing closing html", "<!DOCTYPE html><html><head></head><body></body>", true, ""},
		{"no document", "I cannot generate that.", false, "no DOCTYPE"},
		{"missing head", "<html><body></body></html>", false, "missing <head>"},
		{"missing body", "<html><head></head></html>", false, "missing <body>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html, errStr := ExtractHTML(tt.raw)
			if tt.wantOK {
				assert.Empty(t, errStr)
				assert.Contains(t, html, "</html>")
				assert.True(t, len(html) > 0)
			} else {
				assert.Contains(t, errStr, tt.wantErr)
				assert.Empty(t, html)
			}
		})
	}
}

func TestGenerateUsesHighTokenReasoner(t *testing.T) {
	reasoner := providertest.New(provider.TierReasoner, "m").Reply(goodHTML)
	g := newGenerator(t, reasoner)

	res := g.Generate(context.Background(), "a trivia quiz about world capitals", nil)
	require.True(t, res.OK)
	assert.Contains(t, res.HTML, "<!DOCTYPE html>")

	require.Equal(t, 1, reasoner.Calls())
	req := reasoner.Requests[0]
	assert.True(t, req.HighToken)
	assert.Contains(t, req.System, "1920x1080")
	// The trivia hint was selected by keyword.
	assert.Contains(t, req.System, "running score")
	assert.Contains(t, req.Prompt, "world capitals")
}

func TestGenerateProviderFailure(t *testing.T) {
	reasoner := providertest.New(provider.TierReasoner, "m").
		Fail(provider.ErrorQuota, provider.ErrQuotaExhausted)
	g := newGenerator(t, reasoner)

	res := g.Generate(context.Background(), "a dashboard", nil)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.HTML)
}

func TestGenerateRejectsNonDocument(t *testing.T) {
	reasoner := providertest.New(provider.TierReasoner, "m").Reply("no page for you")
	g := newGenerator(t, reasoner)

	res := g.Generate(context.Background(), "a dashboard", nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "no DOCTYPE")
}
