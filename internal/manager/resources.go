package manager

import (
	"runtime"

	"github.com/rs/zerolog"

	"diffusiond/internal/device"
)

// ResourceManager releases pipeline and accelerator memory. Stateless: it
// holds only the accelerator handle and a logger. This is the only place
// accelerator memory is ever released, so every path that destroys a
// resident pipeline routes through CleanupPipeline exactly once.
type ResourceManager struct {
	accel device.Accelerator
	log   zerolog.Logger
}

func NewResourceManager(accel device.Accelerator, log zerolog.Logger) *ResourceManager {
	if accel == nil {
		accel = device.None()
	}
	return &ResourceManager{accel: accel, log: log}
}

// Accelerator returns the accelerator backing pipeline memory.
func (rm *ResourceManager) Accelerator() device.Accelerator { return rm.accel }

// CleanupPipeline releases the pipeline handle and frees accelerator memory:
// a collection pass, then synchronize + cache release on the accelerator
// with before/after memory figures, then a final collection pass. Safe to
// call with a nil pipe (collection passes and logging only).
func (rm *ResourceManager) CleanupPipeline(pipe Pipeline, modelID string) error {
	rm.log.Info().Str("model", modelID).Msg("starting resource cleanup")

	var releaseErr error
	if pipe != nil {
		releaseErr = pipe.Release()
		if releaseErr == nil {
			rm.log.Info().Str("model", modelID).Msg("pipeline released")
		}
	}

	runtime.GC()

	var accelErr error
	if rm.accel.Available() {
		accelErr = rm.freeAcceleratorCache(modelID)
	} else {
		rm.logHostMemory(modelID)
	}

	runtime.GC()

	if releaseErr != nil {
		cleanupsTotal.WithLabelValues("error").Inc()
		return ErrCleanupFailed(modelID, releaseErr)
	}
	if accelErr != nil {
		cleanupsTotal.WithLabelValues("error").Inc()
		return ErrCleanupFailed(modelID, accelErr)
	}
	cleanupsTotal.WithLabelValues("ok").Inc()
	return nil
}

// freeAcceleratorCache synchronizes pending accelerator work, releases the
// cache and logs the memory figures around it.
func (rm *ResourceManager) freeAcceleratorCache(modelID string) error {
	if err := rm.accel.Synchronize(); err != nil {
		return err
	}
	before, err := rm.accel.MemoryInfo()
	if err != nil {
		rm.log.Warn().Err(err).Msg("accelerator memory figures unavailable")
	} else {
		rm.log.Info().
			Str("device", string(rm.accel.Kind())).
			Uint64("allocated_bytes", before.AllocatedBytes).
			Uint64("reserved_bytes", before.ReservedBytes).
			Msg("accelerator memory before cleanup")
	}

	if err := rm.accel.EmptyCache(); err != nil {
		return err
	}
	runtime.GC()

	after, err := rm.accel.MemoryInfo()
	if err == nil {
		var freed uint64
		if before.AllocatedBytes > after.AllocatedBytes {
			freed = before.AllocatedBytes - after.AllocatedBytes
		}
		rm.log.Info().
			Str("device", string(rm.accel.Kind())).
			Uint64("allocated_bytes", after.AllocatedBytes).
			Uint64("reserved_bytes", after.ReservedBytes).
			Uint64("freed_bytes", freed).
			Msg("accelerator memory after cleanup")
	}
	return nil
}

func (rm *ResourceManager) logHostMemory(modelID string) {
	rm.log.Warn().Str("model", modelID).Msg("no accelerator available, cannot clear device cache")
	used, total, err := device.HostMemory()
	if err != nil {
		return
	}
	rm.log.Info().
		Uint64("host_used_bytes", used).
		Uint64("host_total_bytes", total).
		Msg("host memory after cleanup")
}
