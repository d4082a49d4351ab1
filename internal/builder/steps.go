package builder

// Step enumerates the checkpoints of a build. The builder polls the
// cancellation token at every step, so cancellation latency is bounded by
// the longest gap between two steps.
type Step int

const (
	StepInit Step = iota + 1
	StepCacheCheck
	StepBuildStrategies
	StepLoadWeights
	StepLoadComplete
	StepMoveToDevice
	StepApplyOptimizations
	StepFinalize
)

// TotalSteps is the step counter total reported with progress events.
const TotalSteps = 8

// Phase groups steps for coarse progress display.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseLoadingModel   Phase = "loading_model"
	PhaseDeviceSetup    Phase = "device_setup"
	PhaseOptimization   Phase = "optimization"
)

type stepInfo struct {
	message string
	phase   Phase
}

var stepConfig = map[Step]stepInfo{
	StepInit:               {"Initializing pipeline builder...", PhaseInitialization},
	StepCacheCheck:         {"Checking model layout...", PhaseInitialization},
	StepBuildStrategies:    {"Preparing loading strategies...", PhaseLoadingModel},
	StepLoadWeights:        {"Loading model weights...", PhaseLoadingModel},
	StepLoadComplete:       {"Model weights loaded", PhaseLoadingModel},
	StepMoveToDevice:       {"Moving model to device...", PhaseDeviceSetup},
	StepApplyOptimizations: {"Applying optimizations...", PhaseDeviceSetup},
	StepFinalize:           {"Finalizing pipeline setup...", PhaseOptimization},
}
