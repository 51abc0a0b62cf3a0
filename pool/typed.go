package pool

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// New allocates a single element and initializes it to the zero value of T
func (p *Pool[T]) New() (*T, error) {
	ptr, err := p.Allocate(1)
	if err != nil {
		return nil, err
	}

	var zero T
	return p.Construct(ptr, zero), nil
}

// Delete resets value and returns it to the pool. value must have come from New.
func (p *Pool[T]) Delete(value *T) error {
	if value == nil {
		return errors.New("attempted to delete a nil element")
	}

	p.Destruct(value)
	return p.Deallocate(p.Address(value), 1)
}

// AllocateSlice allocates count contiguous elements and returns them as a slice of length count
func (p *Pool[T]) AllocateSlice(count int) ([]T, error) {
	ptr, err := p.Allocate(count)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*T)(ptr), count), nil
}

// DeallocateSlice returns a slice produced by AllocateSlice. The slice must not have been resliced.
func (p *Pool[T]) DeallocateSlice(elements []T) error {
	if len(elements) == 0 {
		return errors.New("attempted to deallocate an empty slice")
	}

	return p.Deallocate(unsafe.Pointer(unsafe.SliceData(elements)), len(elements))
}
