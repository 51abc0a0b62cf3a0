package memutils

import (
	"math"
	"reflect"
	"unsafe"
)

// Allocator is the capability surface a generic container needs from an allocator of T values.
// Allocate and Deallocate work in element counts; the remaining methods place and remove values
// in memory the allocator has handed out.
type Allocator[T any] interface {
	Allocate(count int) (unsafe.Pointer, error)
	Deallocate(ptr unsafe.Pointer, count int) error
	MaxSize() int
	Construct(ptr unsafe.Pointer, value T) *T
	Destruct(ptr *T)
	Address(ref *T) unsafe.Pointer
}

// GeneralAllocator supplies the construct/destruct/address helpers shared by every allocator of T.
// It holds no state and is meant to be embedded.
type GeneralAllocator[T any] struct{}

// Construct places value at ptr and returns ptr as a *T
func (GeneralAllocator[T]) Construct(ptr unsafe.Pointer, value T) *T {
	target := (*T)(ptr)
	*target = value
	return target
}

// Destruct resets the value at ptr to the zero value of T
func (GeneralAllocator[T]) Destruct(ptr *T) {
	var zero T
	*ptr = zero
}

// Address returns the untyped address of ref
func (GeneralAllocator[T]) Address(ref *T) unsafe.Pointer {
	return unsafe.Pointer(ref)
}

// MaxSize returns the largest element count whose byte size is representable as an int
func (GeneralAllocator[T]) MaxSize() int {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return math.MaxInt
	}
	return math.MaxInt / size
}

// HasPointers reports whether values of type t contain Go pointers the garbage collector must trace
func HasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && HasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if HasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
