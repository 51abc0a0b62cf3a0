package pool

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/sysmem"
	"golang.org/x/exp/slog"
)

type oversizedAllocation struct {
	ptr  unsafe.Pointer
	size int
}

// oversizedList tracks requests too large for a block. Each one is served directly by the system
// allocator and never touches the free list.
type oversizedList struct {
	logger      *slog.Logger
	allocator   sysmem.Allocator
	allocations *swiss.Map[uintptr, oversizedAllocation]
	bytes       int
}

func (l *oversizedList) Init(logger *slog.Logger, allocator sysmem.Allocator) {
	l.logger = logger
	l.allocator = allocator
	l.allocations = swiss.NewMap[uintptr, oversizedAllocation](0)
}

func (l *oversizedList) Count() int { return l.allocations.Count() }
func (l *oversizedList) Bytes() int { return l.bytes }

func (l *oversizedList) Allocate(size int) (unsafe.Pointer, error) {
	ptr, err := l.allocator.Alloc(size)
	if err != nil {
		return nil, memutils.WithKind(errors.Wrapf(err, "failed to allocate %d oversized bytes", size), memutils.SystemAllocationError)
	}
	if ptr == nil {
		return nil, memutils.WithKind(errors.Newf("system allocator returned nil for %d oversized bytes", size), memutils.SystemAllocationError)
	}

	l.allocations.Put(uintptr(ptr), oversizedAllocation{ptr: ptr, size: size})
	l.bytes += size

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated oversized memory",
		slog.Int("size", size),
		slog.Int("oversized.count", l.allocations.Count()),
	)

	return ptr, nil
}

func (l *oversizedList) Free(ptr unsafe.Pointer, size int) error {
	alloc, ok := l.allocations.Get(uintptr(ptr))
	if !ok {
		return errors.Wrapf(memutils.UnknownAllocationError, "address %p", ptr)
	}
	if alloc.size != size {
		return errors.Wrapf(memutils.UnknownAllocationError, "address %p was allocated with %d bytes but freed with %d", ptr, alloc.size, size)
	}

	l.allocations.Delete(uintptr(ptr))
	l.bytes -= size

	err := l.allocator.Free(ptr, size)
	if err != nil {
		return memutils.WithKind(errors.Wrapf(err, "failed to free %d oversized bytes", size), memutils.SystemAllocationError)
	}
	return nil
}

func (l *oversizedList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.allocations.Iter(func(_ uintptr, alloc oversizedAllocation) bool {
		stats.AddOversized(alloc.size)
		return false
	})
}

// Destroy frees every remaining allocation, logging each one as unreleased
func (l *oversizedList) Destroy() error {
	var err error
	l.allocations.Iter(func(_ uintptr, alloc oversizedAllocation) bool {
		l.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed oversized allocation",
			slog.String("address", hexAddress(alloc.ptr)),
			slog.Int("size", alloc.size),
		)
		err = errors.CombineErrors(err, l.allocator.Free(alloc.ptr, alloc.size))
		return false
	})
	l.allocations = swiss.NewMap[uintptr, oversizedAllocation](0)
	l.bytes = 0
	return err
}

func (l *oversizedList) Validate() error {
	total := 0
	l.allocations.Iter(func(address uintptr, alloc oversizedAllocation) bool {
		total += alloc.size
		return false
	})

	if total != l.bytes {
		return errors.Newf("oversized allocations hold %d bytes but %d were recorded", total, l.bytes)
	}
	return nil
}

func (l *oversizedList) PrintDetailedMap(json *jwriter.ObjectState) {
	array := json.Name("Oversized").Array()
	defer array.End()

	l.allocations.Iter(func(_ uintptr, alloc oversizedAllocation) bool {
		obj := array.Object()
		obj.Name("Address").String(hexAddress(alloc.ptr))
		obj.Name("Size").Int(alloc.size)
		obj.End()
		return false
	})
}
