//go:build linux || darwin

package sysmem

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/sys/unix"
)

// MmapAllocator hands out anonymous private mappings. The memory lives outside the Go heap, so it is
// invisible to the garbage collector and must be returned with Free.
type MmapAllocator struct {
	mutex    sync.Mutex
	mappings *swiss.Map[uintptr, []byte]
}

var _ Allocator = &MmapAllocator{}

func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{
		mappings: swiss.NewMap[uintptr, []byte](8),
	}
}

// Default returns the allocator pools use when none is configured
func Default() Allocator {
	return NewMmapAllocator()
}

func (a *MmapAllocator) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot allocate %d bytes", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", size)
	}

	ptr := unsafe.Pointer(unsafe.SliceData(data))

	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.mappings.Put(uintptr(ptr), data)

	return ptr, nil
}

func (a *MmapAllocator) Free(ptr unsafe.Pointer, size int) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	data, ok := a.mappings.Get(uintptr(ptr))
	if !ok {
		return errors.Newf("address %p was not mapped by this allocator", ptr)
	}
	if len(data) != size {
		return errors.Newf("address %p was mapped with %d bytes but freed with %d", ptr, len(data), size)
	}

	a.mappings.Delete(uintptr(ptr))
	return errors.Wrapf(unix.Munmap(data), "munmap of %p failed", ptr)
}

// MappingCount returns the number of mappings that have not been freed
func (a *MmapAllocator) MappingCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.mappings.Count()
}
