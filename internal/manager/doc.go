// Package manager owns the lifecycle of the single resident diffusion
// pipeline: at most one pipeline is loaded at a time, loading is slow and
// cancellable, and accelerator memory is always released through one
// cleanup routine. It is structured into small files by concern:
//
//   - manager.go: Manager facade composing the specialized parts.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - state.go: ModelState, transition table, StateManager.
//   - cancel.go: CancellationToken for cooperative load cancellation.
//   - pipeline.go: PipelineManager, exclusive owner of the resident pipeline.
//   - resources.go: ResourceManager, deterministic accelerator-memory cleanup.
//   - loader.go: LoaderService, the orchestrator (locking, cancellation
//     races, capacity-one worker dispatch).
//   - builder_iface.go: PipelineBuilder, the construction collaborator seam.
//   - errors.go: error types and helpers (IsDuplicateLoad, IsCancelled, ...).
//   - events.go: lifecycle/progress event publishing.
//   - metrics.go: prometheus instrumentation.
//   - status_report.go: Status/Snapshot reporting helpers.
//
// Concurrency model: one mutex guards all state and pipeline-reference
// bookkeeping; one capacity-one worker lane runs the blocking construction
// and destruction calls. The mutex is never held across the slow work.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (New/NewWithConfig, Load, Unload, CurrentState,
// CurrentID, Status, Close). Internal types are subject to change.
package manager
