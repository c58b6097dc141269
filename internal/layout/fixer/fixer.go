package fixer

import (
	"context"
	"strings"

	"lumen/internal/layout/sandbox"
	"lumen/internal/logging"
	"lumen/internal/prompts"
	"lumen/internal/provider"
)

// FixResult is the outcome of one repair attempt. OK only means patches
// were applied; the caller revalidates the returned HTML.
type FixResult struct {
	OK            bool         `json:"ok"`
	HTML          string       `json:"-"`
	ClassPatches  []ClassPatch `json:"class_patches,omitempty"`
	JSPatches     []JSPatch    `json:"js_patches,omitempty"`
	Deterministic bool         `json:"deterministic"`
	Error         string       `json:"error,omitempty"`
}

// Fixer repairs failed layouts: registry patches for recognized failure
// shapes, then model-produced Tailwind patches, then a script patch when
// the page throws.
type Fixer struct {
	coder    provider.Client
	repairer *provider.Repairer
	store    *prompts.Store
	retries  int
}

// New builds a Fixer. retries bounds the model patch attempts per kind.
func New(coder provider.Client, repairer *provider.Repairer, store *prompts.Store, retries int) *Fixer {
	if retries <= 0 {
		retries = 2
	}
	return &Fixer{coder: coder, repairer: repairer, store: store, retries: retries}
}

// Fix attempts to repair the document given its validation result.
func (f *Fixer) Fix(ctx context.Context, doc string, res sandbox.Result) FixResult {
	log := logging.S(logging.CategoryRepair)
	failures := CollectFailures(doc, res)
	out := FixResult{HTML: doc}

	// Recognized failure shapes repair without a model call.
	var deterministic []ClassPatch
	for _, fe := range failures {
		kind := ClassifyFailure(fe.Classes)
		patch, ok := DeterministicPatch(kind, fe.Selector)
		if !ok {
			continue
		}
		if err := VerifyClassPatch(doc, patch); err != nil {
			log.Debugw("deterministic patch rejected", "selector", fe.Selector, "error", err)
			continue
		}
		deterministic = append(deterministic, patch)
	}
	if len(deterministic) > 0 {
		patched, report, err := ApplyClassPatches(doc, deterministic)
		if err == nil && len(report.Applied) > 0 {
			log.Infow("deterministic repair applied", "patches", len(report.Applied))
			out.OK = true
			out.HTML = patched
			out.ClassPatches = report.Applied
			out.Deterministic = true
			return out
		}
	}

	current := doc
	applied := false

	if len(failures) > 0 {
		if patched, patches, ok := f.tailwindRepair(ctx, current, failures); ok {
			current = patched
			out.ClassPatches = patches
			applied = true
		}
	}

	if f.needsScriptRepair(res, failures, current) {
		if patched, patches, ok := f.scriptRepair(ctx, current, res, failures); ok {
			current = patched
			out.JSPatches = patches
			applied = true
		}
	}

	out.HTML = current
	out.OK = applied
	if !applied {
		out.Error = "no applicable patch"
	}
	return out
}

// tailwindRepair asks the model for class patches, verifying each and
// carrying rejected ones into the retry prompt as negative context.
func (f *Fixer) tailwindRepair(ctx context.Context, doc string, failures []FailedElement) (string, []ClassPatch, bool) {
	log := logging.S(logging.CategoryRepair)
	var rejected []ClassPatch

	for attempt := 0; attempt < f.retries; attempt++ {
		prompt := prompts.Fill(f.store.Get(prompts.TailwindFix), map[string]string{
			"ERRORS": describeFailures(failures),
			"FAILED": describeRejected(rejected),
			"HTML":   doc,
		})

		var patches []ClassPatch
		resp := f.repairer.CompleteJSON(ctx, f.coder, provider.Request{Prompt: prompt}, &patches)
		if !resp.OK {
			log.Warnw("tailwind repair request failed", "attempt", attempt+1, "error", resp.Error)
			continue
		}

		var verified []ClassPatch
		for _, p := range patches {
			if err := VerifyClassPatch(doc, p); err != nil {
				log.Debugw("patch rejected", "selector", p.Selector, "error", err)
				rejected = append(rejected, p)
				continue
			}
			verified = append(verified, p)
		}
		if len(verified) == 0 {
			continue
		}

		patched, report, err := ApplyClassPatches(doc, verified)
		if err != nil || len(report.Applied) == 0 {
			rejected = append(rejected, verified...)
			continue
		}
		log.Infow("tailwind repair applied",
			"attempt", attempt+1, "applied", len(report.Applied), "rejected", len(rejected))
		return patched, report.Applied, true
	}
	return doc, nil, false
}

// needsScriptRepair reports whether the page's behavior, not its styling,
// is the likely fault: thrown errors or calls to undefined functions.
func (f *Fixer) needsScriptRepair(res sandbox.Result, failures []FailedElement, doc string) bool {
	for _, p := range res.Phases {
		if !p.Passed && strings.Contains(p.Error, "page errors") {
			return true
		}
	}
	for _, fe := range failures {
		if fe.Failure == sandbox.FailureError && fe.Error != "" {
			return true
		}
	}
	return len(analyzeScripts(doc).Missing) > 0
}

// scriptRepair asks the model for typed script patches, verifying each and
// carrying rejected ones into the retry prompt as negative context.
func (f *Fixer) scriptRepair(ctx context.Context, doc string, res sandbox.Result, failures []FailedElement) (string, []JSPatch, bool) {
	log := logging.S(logging.CategoryRepair)

	var errs strings.Builder
	for _, p := range res.Phases {
		if !p.Passed && p.Error != "" {
			errs.WriteString("- " + p.Error + "\n")
		}
	}
	errs.WriteString(describeFailures(failures))
	errs.WriteString(analyzeScripts(doc).summary())

	var rejected []JSPatch
	for attempt := 0; attempt < f.retries; attempt++ {
		prompt := prompts.Fill(f.store.Get(prompts.JSFix), map[string]string{
			"ERRORS": errs.String(),
			"FAILED": describeRejectedJS(rejected),
			"HTML":   doc,
		})

		var patches []JSPatch
		resp := f.repairer.CompleteJSON(ctx, f.coder, provider.Request{Prompt: prompt}, &patches)
		if !resp.OK {
			log.Warnw("script repair request failed", "attempt", attempt+1, "error", resp.Error)
			continue
		}

		var verified []JSPatch
		for _, p := range patches {
			if err := VerifyJSPatch(doc, p); err != nil {
				log.Debugw("script patch rejected", "type", p.Type, "error", err)
				rejected = append(rejected, p)
				continue
			}
			verified = append(verified, p)
		}
		if len(verified) == 0 {
			continue
		}

		patched, applied := ApplyJSPatches(doc, verified)
		if len(applied) == 0 {
			rejected = append(rejected, verified...)
			continue
		}
		log.Infow("script repair applied",
			"attempt", attempt+1, "applied", len(applied), "rejected", len(rejected))
		return patched, applied, true
	}
	return doc, nil, false
}
