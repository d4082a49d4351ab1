// Package device defines the accelerator seam consumed by the resource
// cleanup path. Capability detection itself is an external concern; this
// package ships the interface plus the no-accelerator host implementation.
package device

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// Kind names an accelerator backend.
type Kind string

const (
	KindNone Kind = "none"
	KindCUDA Kind = "cuda"
	KindMPS  Kind = "mps"
)

// MemoryInfo reports accelerator memory figures in bytes.
type MemoryInfo struct {
	AllocatedBytes uint64
	ReservedBytes  uint64
}

// Accelerator abstracts the device whose memory backs resident pipelines.
// Synchronize and EmptyCache bracket the cache-release step during cleanup;
// MemoryInfo feeds the before/after log lines.
type Accelerator interface {
	Kind() Kind
	Available() bool
	Synchronize() error
	EmptyCache() error
	MemoryInfo() (MemoryInfo, error)
}

// none is the host fallback used when no accelerator is present.
type none struct{}

func (none) Kind() Kind                      { return KindNone }
func (none) Available() bool                 { return false }
func (none) Synchronize() error              { return nil }
func (none) EmptyCache() error               { return nil }
func (none) MemoryInfo() (MemoryInfo, error) { return MemoryInfo{}, nil }

// None returns the no-accelerator implementation.
func None() Accelerator { return none{} }

// HostMemory returns used and total host memory in bytes. Used for cleanup
// log lines when no accelerator is present.
func HostMemory() (used, total uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Used, vm.Total, nil
}
