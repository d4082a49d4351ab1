package manager

import "diffusiond/pkg/types"

// Pipeline is the resident resource handle: an exclusively-owned, loaded
// diffusion pipeline. Non-nil exactly while the state is loaded (or an
// unload from loaded is in progress); set and cleared only through
// PipelineManager.
type Pipeline interface {
	// Config reports the pipeline configuration cached for fast-path loads.
	Config() types.PipelineConfig
	// Release drops the pipeline's backing weights so memory can be
	// reclaimed. Called only by ResourceManager.
	Release() error
}

// PipelineBuilder is the construction collaborator consumed by the
// LoaderService. Implementations try their construction strategies in a
// fixed order, return on the first success and surface the last error when
// all fail. They must poll tok.CheckCancelled between expensive sub-steps
// and must not touch manager state beyond returning the handle.
type PipelineBuilder interface {
	Build(modelID string, tok *CancellationToken) (Pipeline, error)
}
