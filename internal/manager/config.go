package manager

import (
	"errors"
	"os"

	"github.com/rs/zerolog"

	"diffusiond/internal/device"
	"diffusiond/pkg/types"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Registry of loadable models; Load rejects ids not present here.
	Registry []types.Model
	// Builder is the construction collaborator. Required.
	Builder PipelineBuilder
	// Accelerator backing pipeline memory. Defaults to device.None().
	Accelerator device.Accelerator
	// Publisher receives lifecycle and progress events. Defaults to a no-op.
	Publisher EventPublisher
	// Logger for all manager components. Defaults to a stderr logger.
	Logger *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig, applying defaults
// for unset fields.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	if cfg.Builder == nil {
		return nil, errors.New("manager: ManagerConfig.Builder is required")
	}
	log := defaultLogger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	accel := cfg.Accelerator
	if accel == nil {
		accel = device.None()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}

	states := NewStateManager(componentLogger(log, "state"))
	resources := NewResourceManager(accel, componentLogger(log, "resources"))
	pipelines := NewPipelineManager(componentLogger(log, "pipeline"))
	loader, err := NewLoaderService(states, resources, pipelines, cfg.Builder, publisher, componentLogger(log, "loader"))
	if err != nil {
		return nil, err
	}

	m := newManager(cfg.Registry, states, resources, pipelines, loader, log)
	m.log.Info().Int("models", len(cfg.Registry)).Msg("manager initialized")
	return m, nil
}

func defaultLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Str("category", "model_load").Logger()
}

func componentLogger(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
