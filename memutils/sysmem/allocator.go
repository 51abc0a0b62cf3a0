package sysmem

import (
	"unsafe"
)

// Allocator is the raw memory source behind a pool. Every address returned by Alloc must be aligned
// to at least 8 bytes and remain valid until it is passed to Free with the same size.
//
//go:generate mockgen -source allocator.go -destination ./mocks/mock_allocator.go -package mock_sysmem
type Allocator interface {
	Alloc(size int) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer, size int) error
}
