//go:build !debug_init_allocs

package pool

import (
	"unsafe"
)

const (
	// InitializeAllocs causes all new allocations to be filled with deterministic data, and all
	// released allocations to be overwritten with a different pattern. It is only active when the
	// debug_init_allocs build tag is present.
	InitializeAllocs bool = false
)

func fillAllocation(ptr unsafe.Pointer, size uintptr, pattern uint8) {
}
