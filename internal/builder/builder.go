// Package builder is the construction collaborator consumed by the manager:
// it turns a model id into a resident pipeline by trying a fixed order of
// loading strategies, polling the cancellation token between steps and
// emitting fire-and-forget progress events.
package builder

import (
	"github.com/rs/zerolog"

	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
	"diffusiond/pkg/types"
)

// Builder resolves model ids through the registry and constructs pipelines
// from on-disk layouts. It holds no lifecycle state; the manager owns that.
type Builder struct {
	registry  *registry.Registry
	publisher manager.EventPublisher
	log       zerolog.Logger
}

var _ manager.PipelineBuilder = (*Builder)(nil)

func New(reg *registry.Registry, publisher manager.EventPublisher, log zerolog.Logger) *Builder {
	return &Builder{registry: reg, publisher: publisher, log: log}
}

// Build constructs the pipeline for modelID. Strategies are evaluated in a
// fixed order with early exit on the first success; when all fail the last
// error is surfaced. The token is checked at every step boundary and before
// every strategy.
func (b *Builder) Build(modelID string, tok *manager.CancellationToken) (manager.Pipeline, error) {
	mdl, ok := b.registry.Get(modelID)
	if !ok {
		return nil, manager.ErrModelNotFound(modelID)
	}
	b.log.Info().Str("model", modelID).Str("layout", mdl.Layout).Msg("building pipeline")

	if err := b.emitStep(modelID, StepInit, tok); err != nil {
		return nil, err
	}
	if err := b.emitStep(modelID, StepCacheCheck, tok); err != nil {
		return nil, err
	}
	checkpoint := findSingleFileCheckpoint(mdl)

	if err := b.emitStep(modelID, StepBuildStrategies, tok); err != nil {
		return nil, err
	}
	strategies := buildStrategies(mdl, checkpoint)

	if err := b.emitStep(modelID, StepLoadWeights, tok); err != nil {
		return nil, err
	}
	pipe, err := b.runStrategies(mdl, strategies, tok)
	if err != nil {
		return nil, err
	}

	// The remaining steps exist as cancellation checkpoints and progress
	// markers around device placement and optimization hooks.
	for _, step := range []Step{StepLoadComplete, StepMoveToDevice, StepApplyOptimizations, StepFinalize} {
		if err := b.emitStep(modelID, step, tok); err != nil {
			return nil, err
		}
	}
	b.log.Info().Str("model", modelID).Str("class", pipe.cfg.Class).Msg("pipeline built")
	return pipe, nil
}

// runStrategies tries each strategy in order. The last error is kept so an
// exhausted build reports why its final fallback failed.
func (b *Builder) runStrategies(mdl types.Model, strategies []strategy, tok *manager.CancellationToken) (*localPipeline, error) {
	var lastErr error
	for _, st := range strategies {
		if err := tok.CheckCancelled(); err != nil {
			return nil, err
		}
		pipe, err := st.build(mdl, tok)
		if err == nil {
			b.log.Info().Str("model", mdl.ID).Str("strategy", st.name()).Msg("strategy succeeded")
			return pipe, nil
		}
		b.log.Warn().Err(err).Str("model", mdl.ID).Str("strategy", st.name()).Msg("strategy failed")
		lastErr = err
	}
	return nil, manager.ErrConstructionFailed(mdl.ID, lastErr)
}

// emitStep checks the token, then publishes a load_progress event. Publisher
// failures are logged and never abort the build.
func (b *Builder) emitStep(modelID string, step Step, tok *manager.CancellationToken) error {
	if err := tok.CheckCancelled(); err != nil {
		return err
	}
	info := stepConfig[step]
	b.log.Info().
		Str("model", modelID).
		Int("step", int(step)).
		Int("total", TotalSteps).
		Str("phase", string(info.phase)).
		Msg(info.message)
	if b.publisher == nil {
		return nil
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Warn().Interface("panic", r).Msg("failed to emit load progress")
			}
		}()
		b.publisher.Publish(manager.Event{
			Name:    "load_progress",
			ModelID: modelID,
			Fields: map[string]any{
				"step":    int(step),
				"total":   TotalSteps,
				"phase":   string(info.phase),
				"message": info.message,
			},
		})
	}()
	return nil
}
