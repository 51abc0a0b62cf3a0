package sysmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// HeapAllocator hands out memory from the Go heap. The returned memory is never scanned by the
// garbage collector and is reclaimed once the caller drops every pointer into it, so Free only
// validates its arguments.
type HeapAllocator struct{}

var _ Allocator = HeapAllocator{}

func (HeapAllocator) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot allocate %d bytes", size)
	}

	words := make([]uint64, (size+7)/8)
	return unsafe.Pointer(unsafe.SliceData(words)), nil
}

func (HeapAllocator) Free(ptr unsafe.Pointer, size int) error {
	if ptr == nil {
		return errors.New("attempted to free a nil pointer")
	}
	if size <= 0 {
		return errors.Newf("cannot free %d bytes", size)
	}
	return nil
}
