// Package generator produces full HTML documents for the smart display with
// a single reasoner-tier call, then normalizes and structurally checks the
// output before any browser validation runs.
package generator

import (
	"context"
	"strings"

	"lumen/internal/intent"
	"lumen/internal/logging"
	"lumen/internal/prompts"
	"lumen/internal/provider"

	"gopkg.in/yaml.v3"
)

// Result is the outcome of one generation call.
type Result struct {
	OK        bool   `json:"ok"`
	HTML      string `json:"html,omitempty"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model,omitempty"`
	Tokens    int    `json:"tokens"`
	LatencyMS int64  `json:"latency_ms"`
}

// Generator drives the layout-producing model call.
type Generator struct {
	reasoner provider.Client
	store    *prompts.Store
}

// New builds a Generator on the reasoner tier.
func New(reasoner provider.Client, store *prompts.Store) *Generator {
	return &Generator{reasoner: reasoner, store: store}
}

// contentHint is one entry of the content-hints asset.
type contentHint struct {
	Keywords []string `yaml:"keywords"`
	Hint     string   `yaml:"hint"`
}

// hintsFor returns the content-type hints whose keywords appear in the
// request, concatenated.
func (g *Generator) hintsFor(request string) string {
	raw := g.store.Get(prompts.ContentHints)
	if raw == "" {
		return ""
	}
	var table map[string]contentHint
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		logging.S(logging.CategoryLayout).Warnw("content hints unparseable", "error", err)
		return ""
	}

	lower := strings.ToLower(request)
	var sb strings.Builder
	for _, hint := range table {
		for _, kw := range hint.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				sb.WriteString(strings.TrimSpace(hint.Hint))
				sb.WriteString("\n")
				break
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// Generate produces an HTML document for the request. cctx may be nil.
func (g *Generator) Generate(ctx context.Context, request string, cctx *intent.Context) Result {
	log := logging.S(logging.CategoryLayout)

	hints := g.hintsFor(request)
	if hints == "" {
		hints = "none"
	}
	system := prompts.Fill(g.store.Get(prompts.LayoutSystem), map[string]string{
		"HINTS":   hints,
		"REQUEST": request,
	})

	prompt := "Generate the page for this request:\n" + request
	if summary := cctx.Summary(); summary != "" {
		prompt += "\n\nConversation context:\n" + summary
	}

	resp := g.reasoner.Complete(ctx, provider.Request{
		Prompt:      prompt,
		System:      system,
		Temperature: 0.7,
		MaxTokens:   16384,
		HighToken:   true,
	})
	if !resp.OK {
		log.Warnw("generation failed", "error", resp.Error)
		return Result{Error: resp.Error, Model: resp.Model, LatencyMS: resp.LatencyMS}
	}

	html, err := ExtractHTML(resp.Content)
	if err != "" {
		log.Warnw("generated document rejected", "reason", err)
		return Result{
			Error:     err,
			Model:     resp.Model,
			Tokens:    resp.Usage.TotalTokens,
			LatencyMS: resp.LatencyMS,
		}
	}

	log.Infow("layout generated", "model", resp.Model, "bytes", len(html),
		"tokens", resp.Usage.TotalTokens, "latency_ms", resp.LatencyMS)
	return Result{
		OK:        true,
		HTML:      html,
		Model:     resp.Model,
		Tokens:    resp.Usage.TotalTokens,
		LatencyMS: resp.LatencyMS,
	}
}

// ExtractHTML normalizes raw model output into a checked HTML document.
// The returned error string is empty on success.
func ExtractHTML(raw string) (string, string) {
	text := provider.StripFences(raw)

	// Seek to the document start; models sometimes preface with prose.
	lower := strings.ToLower(text)
	start := strings.Index(lower, "<!doctype")
	if start < 0 {
		start = strings.Index(lower, "<html")
	}
	if start < 0 {
		return "", "no DOCTYPE or <html> found"
	}
	text = text[start:]

	if !strings.Contains(strings.ToLower(text), "</html>") {
		text += "\n</html>"
	}

	lower = strings.ToLower(text)
	switch {
	case !strings.Contains(lower, "<head"):
		return "", "document missing <head>"
	case !strings.Contains(lower, "<body"):
		return "", "document missing <body>"
	}
	return strings.TrimSpace(text), ""
}
