//go:build debug_init_allocs

package pool

import (
	"unsafe"
)

const (
	// InitializeAllocs causes all new allocations to be filled with deterministic data, and all
	// released allocations to be overwritten with a different pattern. If you are concerned that
	// reading uninitialized or released pool memory is causing a bug, you can activate this to help
	// diagnose the issue. It impacts performance and should generally be left deactivated.
	InitializeAllocs bool = true
)

func fillAllocation(ptr unsafe.Pointer, size uintptr, pattern uint8) {
	data := unsafe.Slice((*uint8)(ptr), size)
	for i := range data {
		data[i] = pattern
	}
}
