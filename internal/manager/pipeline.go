package manager

import "github.com/rs/zerolog"

// PipelineManager owns the resident pipeline exclusively: the handle plus its
// model id. It performs no cleanup of its own, so ownership transfer to
// ResourceManager is always explicit at the call site.
//
// No locking here: all mutation happens while the caller (LoaderService)
// holds the serialization lock.
type PipelineManager struct {
	pipe    Pipeline
	modelID string
	log     zerolog.Logger
}

func NewPipelineManager(log zerolog.Logger) *PipelineManager {
	return &PipelineManager{log: log}
}

// SetPipeline stores the pipeline and its model id.
func (pm *PipelineManager) SetPipeline(pipe Pipeline, modelID string) {
	pm.pipe = pipe
	pm.modelID = modelID
	pm.log.Info().Str("model", modelID).Msg("pipeline set")
}

// ClearPipeline drops the pipeline reference and model id.
func (pm *PipelineManager) ClearPipeline() {
	pm.pipe = nil
	pm.modelID = ""
	pm.log.Info().Msg("pipeline cleared")
}

// GetPipeline returns the resident pipeline, or nil when none is loaded.
func (pm *PipelineManager) GetPipeline() Pipeline { return pm.pipe }

// GetModelID returns the resident model id, or empty when none is loaded.
func (pm *PipelineManager) GetModelID() string { return pm.modelID }
