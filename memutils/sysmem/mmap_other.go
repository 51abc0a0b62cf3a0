//go:build !linux && !darwin

package sysmem

// Default returns the allocator pools use when none is configured
func Default() Allocator {
	return HeapAllocator{}
}
