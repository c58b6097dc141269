package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"lumen/internal/layout/fixer"
	"lumen/internal/layout/generator"
	"lumen/internal/logging"
	"lumen/internal/prompts"
	"lumen/internal/provider"
)

// ElementFeedback is one reviewed element from the human feedback flow.
type ElementFeedback struct {
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Status   string `json:"status"` // "ok" or "broken"
	Comment  string `json:"user_feedback,omitempty"`
}

// FeedbackResult is the outcome of a feedback-driven repair.
type FeedbackResult struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"-"`
	Error string `json:"error,omitempty"`
}

// FeedbackRepairer rewrites a layout from human review notes instead of
// browser measurements. Validation is script-safety only; a person has
// already judged the rendering.
type FeedbackRepairer struct {
	reasoner provider.Client
	store    *prompts.Store
}

// NewFeedbackRepairer builds the feedback-mode repairer.
func NewFeedbackRepairer(reasoner provider.Client, store *prompts.Store) *FeedbackRepairer {
	return &FeedbackRepairer{reasoner: reasoner, store: store}
}

// annotationRe strips any review annotations the model echoes back into the
// document.
var annotationRe = regexp.MustCompile(
	`(?m)\s*(?:<!--\s*)?\[(?:ELEMENT #\d+|GLOBAL FEEDBACK)\][^\n<]*(?:-->)?`)

// Repair applies reviewer feedback to a document. Broken elements are
// listed per the annotation convention; a global comment applies to the
// whole page.
func (f *FeedbackRepairer) Repair(ctx context.Context, doc string, elements []ElementFeedback, global string) FeedbackResult {
	log := logging.S(logging.CategoryRepair)
	res := FeedbackResult{HTML: doc}

	feedback := formatFeedback(elements, global)
	if strings.TrimSpace(feedback) == "" {
		res.Error = "no feedback given"
		return res
	}

	prompt := prompts.Fill(f.store.Get(prompts.FeedbackRepair), map[string]string{
		"FEEDBACK": feedback,
		"HTML":     doc,
	})
	resp := f.reasoner.Complete(ctx, provider.Request{
		Prompt:    prompt,
		HighToken: true,
		MaxTokens: 16384,
	})
	if !resp.OK {
		log.Warnw("feedback repair request failed", "error", resp.Error)
		res.Error = resp.Error
		return res
	}

	repaired, errStr := generator.ExtractHTML(resp.Content)
	if errStr != "" {
		res.Error = errStr
		return res
	}
	repaired = StripAnnotations(repaired)

	if err := fixer.VerifyDocumentScripts(repaired); err != nil {
		log.Warnw("feedback repair produced unsafe script", "error", err)
		res.Error = err.Error()
		return res
	}

	res.OK = true
	res.HTML = repaired
	return res
}

// formatFeedback renders the review notes in the annotation convention the
// repair prompt documents.
func formatFeedback(elements []ElementFeedback, global string) string {
	var b strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&b, "[ELEMENT #%d] selector:%s status:%s", e.Index, e.Selector, e.Status)
		if e.Comment != "" {
			fmt.Fprintf(&b, " user_feedback:%q", e.Comment)
		}
		b.WriteByte('\n')
	}
	if strings.TrimSpace(global) != "" {
		fmt.Fprintf(&b, "[GLOBAL FEEDBACK] %s\n", strings.TrimSpace(global))
	}
	return b.String()
}

// StripAnnotations removes review annotations from a document.
func StripAnnotations(doc string) string {
	return annotationRe.ReplaceAllString(doc, "")
}
