// Package vision repairs layouts that survived class and script patching
// but still fail validation. It shows the rendered page to a vision model
// for a diagnosis, then hands the diagnosis and the annotated source to the
// strongest model for a rewrite. It never makes things worse: any failure
// returns the input document unchanged.
package vision

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/layout/generator"
	"lumen/internal/logging"
	"lumen/internal/prompts"
	"lumen/internal/provider"
)

// Problem is one issue the diagnosis step found.
type Problem struct {
	Description string `json:"description"`
	Lines       []int  `json:"lines,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// Diagnosis is the structured outcome of the analysis step.
type Diagnosis struct {
	Problems []Problem `json:"problems"`
	Summary  string    `json:"summary"`
}

// FailedAttempt records one earlier repair that did not stick; the repair
// prompt carries these so the model stops retrying dead ends.
type FailedAttempt struct {
	Phase         string   `json:"phase"`
	Cycle         int      `json:"cycle"`
	CSSRulesTried []string `json:"css_rules_tried,omitempty"`
	FailureReason string   `json:"failure_reason"`
}

// Result is the outcome of a repair. On any failure OK is false and HTML is
// the unchanged input.
type Result struct {
	OK        bool       `json:"ok"`
	HTML      string     `json:"-"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
	Mode      string     `json:"mode"`
	Error     string     `json:"error,omitempty"`
}

// Annotation window: documents over the budget keep the head and tail with
// an omission marker between, so line references stay meaningful.
const (
	annotateBudget = 15000
	headShare      = 2 // head gets half the budget
	tailShare      = 4 // tail gets a quarter
)

// Repairer runs the two-step repair.
type Repairer struct {
	vision   provider.Client
	reasoner provider.Client
	jsonFix  *provider.Repairer
	store    *prompts.Store
}

// New builds a Repairer. vision diagnoses (with the screenshot when one
// exists); reasoner rewrites.
func New(vision, reasoner provider.Client, jsonFix *provider.Repairer, store *prompts.Store) *Repairer {
	return &Repairer{vision: vision, reasoner: reasoner, jsonFix: jsonFix, store: store}
}

// Repair diagnoses the page and rewrites it. A missing screenshot degrades
// to text-only diagnosis rather than failing.
func (r *Repairer) Repair(ctx context.Context, doc string, screenshot []byte, failureSummary string, history []FailedAttempt) Result {
	log := logging.S(logging.CategoryVision)
	mode := "vision"
	if len(screenshot) == 0 {
		mode = "text-only"
	}
	res := Result{HTML: doc, Mode: mode}

	annotated := Annotate(doc)

	diag := r.diagnose(ctx, annotated, screenshot, failureSummary)
	res.Diagnosis = diag
	diagText := failureSummary
	if diag != nil {
		diagText = describeDiagnosis(diag)
	}

	prompt := prompts.Fill(r.store.Get(prompts.VisionRepairSystem), map[string]string{
		"DIAGNOSIS": diagText,
		"HISTORY":   describeHistory(history),
		"HTML":      annotated,
	})
	req := provider.Request{
		Prompt:    prompt,
		HighToken: true,
		MaxTokens: 16384,
	}
	if mode == "vision" {
		req.Images = [][]byte{screenshot}
	}

	resp := r.reasoner.Complete(ctx, req)
	if !resp.OK {
		log.Warnw("vision repair request failed", "mode", mode, "error", resp.Error)
		res.Error = resp.Error
		return res
	}

	repaired, errStr := generator.ExtractHTML(resp.Content)
	if errStr != "" {
		log.Warnw("vision repair produced an invalid document", "error", errStr)
		res.Error = errStr
		return res
	}

	res.OK = true
	res.HTML = repaired
	return res
}

// diagnose runs the analysis step. Failure returns nil; the repair then
// falls back to the raw failure summary.
func (r *Repairer) diagnose(ctx context.Context, annotated string, screenshot []byte, failureSummary string) *Diagnosis {
	prompt := prompts.Fill(r.store.Get(prompts.VisionAnalyze), map[string]string{
		"FINDINGS": failureSummary,
		"HTML":     annotated,
	})
	req := provider.Request{Prompt: prompt}
	if len(screenshot) > 0 {
		req.Images = [][]byte{screenshot}
	}

	var diag Diagnosis
	resp := r.jsonFix.CompleteJSON(ctx, r.vision, req, &diag)
	if !resp.OK {
		logging.S(logging.CategoryVision).Warnw("diagnosis failed", "error", resp.Error)
		return nil
	}
	return &diag
}

func describeDiagnosis(d *Diagnosis) string {
	var b strings.Builder
	for _, p := range d.Problems {
		b.WriteString("- ")
		if p.Severity != "" {
			fmt.Fprintf(&b, "[%s] ", p.Severity)
		}
		b.WriteString(p.Description)
		if len(p.Lines) > 0 {
			fmt.Fprintf(&b, " (lines %v)", p.Lines)
		}
		b.WriteByte('\n')
	}
	if d.Summary != "" {
		b.WriteString(d.Summary)
	}
	return b.String()
}

func describeHistory(history []FailedAttempt) string {
	if len(history) == 0 {
		return "(first attempt)"
	}
	var b strings.Builder
	for _, a := range history {
		fmt.Fprintf(&b, "- cycle %d, %s phase: %s", a.Cycle, a.Phase, a.FailureReason)
		if len(a.CSSRulesTried) > 0 {
			fmt.Fprintf(&b, "; already tried: %s", strings.Join(a.CSSRulesTried, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Annotate prefixes every line with its number so the diagnosis can point
// at locations. Oversized documents keep the head and tail windows with an
// omission marker between.
func Annotate(doc string) string {
	lines := strings.Split(doc, "\n")
	numbered := make([]string, len(lines))
	total := 0
	for i, line := range lines {
		numbered[i] = fmt.Sprintf("%4d| %s", i+1, line)
		total += len(numbered[i]) + 1
	}
	if total <= annotateBudget {
		return strings.Join(numbered, "\n")
	}

	headBudget := annotateBudget / headShare
	tailBudget := annotateBudget / tailShare

	head := 0
	used := 0
	for head < len(numbered) && used+len(numbered[head])+1 <= headBudget {
		used += len(numbered[head]) + 1
		head++
	}
	tailStart := len(numbered)
	used = 0
	for tailStart > head && used+len(numbered[tailStart-1])+1 <= tailBudget {
		used += len(numbered[tailStart-1]) + 1
		tailStart--
	}

	out := make([]string, 0, head+(len(numbered)-tailStart)+1)
	out = append(out, numbered[:head]...)
	out = append(out, fmt.Sprintf("   ...| [%d lines omitted]", tailStart-head))
	out = append(out, numbered[tailStart:]...)
	return strings.Join(out, "\n")
}
