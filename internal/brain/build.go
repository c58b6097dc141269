package brain

import (
	"lumen/internal/config"
	"lumen/internal/device"
	"lumen/internal/intent"
	"lumen/internal/layout/fixer"
	"lumen/internal/layout/generator"
	"lumen/internal/layout/pipeline"
	"lumen/internal/layout/sandbox"
	"lumen/internal/layout/vision"
	"lumen/internal/monitor"
	"lumen/internal/prompts"
	"lumen/internal/provider"
	"lumen/internal/router"
	"lumen/internal/service"
)

// Build wires a Brain from configuration: three provider clients wrapped
// with monitoring, the JSON self-repair loop, the layout pipeline (when
// enabled), and the service with its collaborators. calendar and docs may
// be nil; those intents then answer with a not-connected message.
func Build(cfg config.Config, mon *monitor.Monitor, store *prompts.Store, dispatcher device.Dispatcher, calendar service.Calendar, docs service.Docs) *Brain {
	set := provider.Set{
		Cheap:    provider.WithTracing(provider.NewGeminiClient(cfg.Providers.Cheap), mon),
		Coder:    provider.WithTracing(provider.NewOpenAIClient(cfg.Providers.Coder), mon),
		Reasoner: provider.WithTracing(provider.NewAnthropicClient(cfg.Providers.Reasoner), mon),
	}

	repairer := provider.NewRepairer(
		set.Cheap,
		cfg.Features.JSONRepairEnabled,
		cfg.Pipeline.JSONRepairRetries,
		store.Get(prompts.JSONDiagnosis),
		store.Get(prompts.JSONRepair),
	)

	rt := router.New(set.Cheap, repairer, mon, store)
	parser := intent.NewParser(set.Cheap, repairer, mon, store)

	var layouts service.LayoutRunner
	if cfg.Features.CustomLayoutEnabled {
		gen := generator.New(set.Reasoner, store)
		validator := sandbox.NewValidator(cfg.Sandbox, cfg.DebugDir)

		var fix pipeline.Fixer
		if cfg.Features.HTMLRepairEnabled {
			fix = fixer.New(set.Coder, repairer, store, cfg.Pipeline.PatchRetries)
		}
		vis := vision.New(set.Cheap, set.Reasoner, repairer, store)

		p := pipeline.New(gen, validator, fix, vis,
			cfg.Pipeline.MaxRepairCycles,
			cfg.Features.CustomLayoutValidationEnabled)
		layouts = pipeline.NewRunner(p, "interactive")
	}

	svc := service.New(set, dispatcher, calendar, docs, layouts, mon)
	return New(rt, parser, svc, mon)
}

// BuildFeedbackRepairer wires the human-feedback repair flow: a reviewer
// annotates a generated document, and the reasoner rewrites it with
// script-safety checking only, skipping the browser sandbox.
func BuildFeedbackRepairer(cfg config.Config, mon *monitor.Monitor, store *prompts.Store) *pipeline.FeedbackRepairer {
	reasoner := provider.WithTracing(provider.NewAnthropicClient(cfg.Providers.Reasoner), mon)
	return pipeline.NewFeedbackRepairer(reasoner, store)
}
