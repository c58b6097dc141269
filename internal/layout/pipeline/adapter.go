package pipeline

import (
	"context"

	"lumen/internal/intent"
	"lumen/internal/logging"
	"lumen/internal/service"
)

// Runner adapts the pipeline to the service's layout interface.
type Runner struct {
	pipeline   *Pipeline
	layoutType string
}

// NewRunner wraps a pipeline for the intent service. layoutType defaults to
// interactive; the validator treats static layouts as passing without
// interaction testing.
func NewRunner(p *Pipeline, layoutType string) *Runner {
	if layoutType == "" {
		layoutType = "interactive"
	}
	return &Runner{pipeline: p, layoutType: layoutType}
}

// Run implements service.LayoutRunner.
func (r *Runner) Run(ctx context.Context, request string, cctx *intent.Context) service.LayoutOutcome {
	log := logging.S(logging.CategoryPipeline)
	log.Infow("layout run", "request", truncateRequest(request))

	res := r.pipeline.Run(ctx, request, r.layoutType, cctx)
	return service.LayoutOutcome{
		OK:                res.OK,
		HTML:              res.HTML,
		Score:             res.FinalScore,
		ValidationSkipped: res.ValidationSkipped,
		Error:             res.Error,
	}
}
