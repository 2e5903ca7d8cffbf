package observability

import (
	"context"
)

// Event names emitted by the pipeline runtime (spec §4.7).
const (
	EventPipelineStart    = "pipeline.start"
	EventPipelineStepDone = "pipeline.step.done"
	EventPipelineHalt     = "pipeline.halt"
	EventPipelinePending  = "pipeline.pending"
	EventPipelineEnd      = "pipeline.end"
)

// Emit logs a structured event at info level with the given key/value
// attributes, always via slog regardless of whether OTel export is
// enabled — events are never lost to a disabled tracer.
func (p *Provider) Emit(ctx context.Context, event string, kv ...any) {
	p.logger.InfoContext(ctx, event, kv...)
}
