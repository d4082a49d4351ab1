package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/pkg/types"
)

// Manager is the facade over the lifecycle machinery. It composes exactly one
// StateManager, ResourceManager, PipelineManager and LoaderService; construct
// one at process start and pass it by reference to the serving layer.
type Manager struct {
	states    *StateManager
	resources *ResourceManager
	pipelines *PipelineManager
	loader    *LoaderService

	registry  []types.Model
	startTime time.Time
	log       zerolog.Logger
}

// New constructs a Manager with default accelerator, publisher and logger.
func New(reg []types.Model, builder PipelineBuilder) (*Manager, error) {
	return NewWithConfig(ManagerConfig{Registry: reg, Builder: builder})
}

func newManager(reg []types.Model, states *StateManager, resources *ResourceManager, pipelines *PipelineManager, loader *LoaderService, log zerolog.Logger) *Manager {
	return &Manager{
		states:    states,
		resources: resources,
		pipelines: pipelines,
		loader:    loader,
		registry:  reg,
		startTime: time.Now(),
		log:       log,
	}
}

// Load loads modelID and returns its pipeline configuration. Unknown ids are
// rejected before any state changes.
func (m *Manager) Load(ctx context.Context, modelID string) (types.PipelineConfig, error) {
	if _, ok := m.getModelByID(modelID); !ok {
		return types.PipelineConfig{}, ErrModelNotFound(modelID)
	}
	return m.loader.Load(ctx, modelID)
}

// Unload removes the resident pipeline, cancelling an in-flight load first.
func (m *Manager) Unload(ctx context.Context) error {
	return m.loader.Unload(ctx)
}

// CancelCurrentLoad cancels and drains any in-flight load.
func (m *Manager) CancelCurrentLoad() { m.loader.CancelCurrentLoad() }

// CurrentState returns the lifecycle state.
func (m *Manager) CurrentState() ModelState {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	return m.states.Current()
}

// CurrentID returns the resident model id, empty when none is loaded.
func (m *Manager) CurrentID() string {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	return m.pipelines.GetModelID()
}

// Ready reports whether a pipeline is resident and serving.
func (m *Manager) Ready() bool { return m.CurrentState() == StateLoaded }

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Close cancels any in-flight load, unloads the resident pipeline and
// releases the worker lane.
func (m *Manager) Close() error {
	m.loader.CancelCurrentLoad()
	err := m.loader.Unload(context.Background())
	m.loader.close()
	return err
}

// getModelByID finds a model in the registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}
