package pool

import (
	"context"
	"math"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/chunk"
	"github.com/vkngwrapper/slotpool/memutils/freelist"
	"github.com/vkngwrapper/slotpool/memutils/sysmem"
	"github.com/vkngwrapper/slotpool/pool/internal/utils"
	"golang.org/x/exp/slog"
)

// Pool serves runs of contiguous T slots out of large blocks reserved from a system allocator.
// Freed runs are pushed onto an intrusive free list whose nodes live inside the freed memory itself,
// and adjacent free runs are coalesced when a multi-slot request cannot be satisfied.
//
// T must not contain Go pointers: pool memory is invisible to the garbage collector.
type Pool[T any] struct {
	memutils.GeneralAllocator[T]

	logger *slog.Logger
	mutex  utils.OptionalMutex
	flags  CreateFlags

	layout        chunk.Layout
	slotAlignment uintptr
	blockSize     int
	slotsPerBlock int

	bootstrap freelist.Bootstrap
	freeList  *freelist.List
	blocks    blockList
	oversized oversizedList

	allocationCount int
	liveSlots       int
	strandedBytes   int
	destroyed       bool
}

var _ memutils.Allocator[uint64] = &Pool[uint64]{}

// SlotSizeOf returns the size of a single slot in a Pool[T]: the size of T, raised to at least one
// machine word and rounded up to the stricter of T's alignment and word alignment
func SlotSizeOf[T any]() int {
	var zero T
	size := unsafe.Sizeof(zero)

	word := unsafe.Sizeof(uintptr(0))
	if size < word {
		size = word
	}

	return int(memutils.AlignUp(size, slotAlignmentOf[T]()))
}

// slotAlignmentOf returns the alignment every slot address in a Pool[T] must satisfy: the stricter of
// T's alignment and word alignment. Slot sizes are multiples of it but need not be powers of two.
func slotAlignmentOf[T any]() uintptr {
	var zero T
	alignment := unsafe.Alignof(zero)
	if alignment < unsafe.Alignof(uintptr(0)) {
		alignment = unsafe.Alignof(uintptr(0))
	}
	return alignment
}

func New[T any](logger *slog.Logger, options CreateOptions) (*Pool[T], error) {
	if logger == nil {
		logger = slog.Default()
	}

	elementType := reflect.TypeOf((*T)(nil)).Elem()
	if memutils.HasPointers(elementType) {
		return nil, memutils.WithKind(errors.Wrapf(memutils.PointerElementError, "element type %s", elementType), memutils.ConfigurationError)
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	err := memutils.CheckPow2(blockSize, "BlockSize")
	if err != nil {
		return nil, memutils.WithKind(err, memutils.ConfigurationError)
	}

	slotSize := SlotSizeOf[T]()
	minimumBlockSize := 2 * chunk.Padding * slotSize
	if blockSize < minimumBlockSize {
		return nil, memutils.WithKind(
			errors.Wrapf(memutils.BlockTooSmallError, "BlockSize is %d but %d-byte slots need at least %d", blockSize, slotSize, minimumBlockSize),
			memutils.ConfigurationError,
		)
	}

	allocator := options.SystemAllocator
	if allocator == nil {
		allocator = sysmem.Default()
	}

	p := &Pool[T]{
		logger:        logger,
		mutex:         utils.NewOptionalMutex(options.Flags&PoolCreateExternallySynchronized == 0),
		flags:         options.Flags,
		layout:        chunk.NewLayout(uintptr(slotSize)),
		slotAlignment: slotAlignmentOf[T](),
		blockSize:     blockSize,
		slotsPerBlock: blockSize/slotSize - chunk.Padding,
	}
	p.freeList = freelist.NewList(p.layout, &p.bootstrap)
	p.blocks.Init(logger, allocator, blockSize)
	p.oversized.Init(logger, allocator)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Pool::New",
		slog.String("element", elementType.String()),
		slog.Int("slot.size", slotSize),
		slog.Int("block.size", blockSize),
		slog.Int("block.slots", p.slotsPerBlock),
		slog.String("flags", options.Flags.String()),
	)

	return p, nil
}

func (p *Pool[T]) SlotSize() int      { return int(p.layout.SlotSize()) }
func (p *Pool[T]) SlotAlignment() int { return int(p.slotAlignment) }
func (p *Pool[T]) BlockSize() int     { return p.blockSize }
func (p *Pool[T]) SlotsPerBlock() int { return p.slotsPerBlock }
func (p *Pool[T]) Flags() CreateFlags { return p.flags }

// MaxSize returns the largest element count Allocate will accept
func (p *Pool[T]) MaxSize() int {
	return math.MaxInt / p.SlotSize()
}

func (p *Pool[T]) BlockCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.blocks.Count()
}

func (p *Pool[T]) FreeChunkCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.freeList.Len()
}

// BootstrapCounters returns how many times the free list has requested node storage for an
// insertion and released it on a removal
func (p *Pool[T]) BootstrapCounters() (requests int, releases int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.bootstrap.Requests(), p.bootstrap.Releases()
}

// isOversized reports whether count slots can never be carved from a block. The same test routes
// both Allocate and Deallocate, so a pointer always returns to the source it came from.
func (p *Pool[T]) isOversized(count int) bool {
	return count > p.slotsPerBlock
}

// Allocate reserves count contiguous elements and returns the address of the first. The memory is
// not initialized. It must be returned with Deallocate using the same count.
func (p *Pool[T]) Allocate(count int) (unsafe.Pointer, error) {
	if count < 1 {
		return nil, errors.Newf("cannot allocate %d elements", count)
	}
	if count > p.MaxSize() {
		return nil, errors.Wrapf(memutils.CapacityExceededError, "requested %d elements but at most %d can be represented", count, p.MaxSize())
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil, errors.WithStack(memutils.PoolDestroyedError)
	}

	if p.isOversized(count) {
		ptr, err := p.oversized.Allocate(count * p.SlotSize())
		if err != nil {
			return nil, err
		}
		fillAllocation(ptr, uintptr(count*p.SlotSize()), memutils.CreatedFillPattern)
		return ptr, nil
	}

	ptr := p.allocateFromFreeList(count)
	if ptr == nil && count > 1 && p.flags&PoolCreateNoRecycle == 0 {
		p.recycle()
		ptr = p.allocateFromFreeList(count)
	}

	if ptr == nil {
		err := p.createBlock()
		if err != nil {
			return nil, err
		}

		ptr = p.allocateFromFreeList(count)
		if ptr == nil {
			panic(errors.AssertionFailedf("a fresh block of %d slots could not serve %d slots", p.slotsPerBlock, count))
		}
	}

	p.allocationCount++
	p.liveSlots += count + chunk.Padding
	fillAllocation(ptr, uintptr(count*p.SlotSize()), memutils.CreatedFillPattern)

	return ptr, nil
}

// allocateFromFreeList carves count slots from the first free chunk large enough to hold them, or
// returns nil if no chunk is large enough
func (p *Pool[T]) allocateFromFreeList(count int) unsafe.Pointer {
	layout := p.layout

	for c := p.freeList.Front(); c != nil; c = layout.Next(c) {
		size := layout.Size(c)
		if size < count {
			continue
		}

		if memutils.CorruptionDetection && !memutils.ValidateMagicValue(layout.DataAddress(c), layout.DataBytes(c)) {
			panic(errors.AssertionFailedf("MEMORY CORRUPTION DETECTED IN FREE CHUNK %p", c))
		}

		if layout.CanAllocNode(c, count) {
			return layout.Carve(c, count)
		}

		// Too small to keep a header after carving, so the whole chunk goes. The slots beyond count
		// cannot come back through Deallocate(ptr, count).
		p.freeList.Remove(c)
		p.strandedBytes += (size - count) * p.SlotSize()
		return p.bootstrap.Take()
	}

	return nil
}

// createBlock reserves a new block and seeds it as a single chunk at the front of the free list
func (p *Pool[T]) createBlock() error {
	base, err := p.blocks.Create(p.slotAlignment)
	if err != nil {
		return err
	}

	// Slots that don't divide the block leave a tail nobody can use
	p.strandedBytes += p.blockSize - (p.slotsPerBlock+chunk.Padding)*p.SlotSize()

	p.bootstrap.Stash(base)
	c := p.freeList.PushFront(p.slotsPerBlock)
	memutils.WriteMagicValue(p.layout.DataAddress(c), p.layout.DataBytes(c))

	memutils.DebugValidate(p.freeList)
	return nil
}

// Deallocate returns count elements at ptr to the pool. count must match the count passed to the
// Allocate call that produced ptr.
func (p *Pool[T]) Deallocate(ptr unsafe.Pointer, count int) error {
	if ptr == nil {
		return errors.New("attempted to deallocate a nil pointer")
	}
	if count < 1 {
		return errors.Newf("cannot deallocate %d elements", count)
	}
	if count > p.MaxSize() {
		return errors.Wrapf(memutils.CapacityExceededError, "released %d elements but at most %d can be represented", count, p.MaxSize())
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return errors.WithStack(memutils.PoolDestroyedError)
	}

	if p.isOversized(count) {
		return p.oversized.Free(ptr, count*p.SlotSize())
	}

	if memutils.CorruptionDetection && !p.blocks.Contains(ptr) {
		panic(errors.AssertionFailedf("deallocated address %p does not belong to any block of this pool", ptr))
	}

	fillAllocation(ptr, uintptr(count*p.SlotSize()), memutils.DestroyedFillPattern)

	p.bootstrap.Stash(ptr)
	c := p.freeList.PushFront(count)
	memutils.WriteMagicValue(p.layout.DataAddress(c), p.layout.DataBytes(c))

	p.allocationCount--
	p.liveSlots -= count + chunk.Padding

	return nil
}

// Destroy returns every block and oversized allocation to the system allocator. Allocations that
// are still live are logged. Any later call on the pool fails with PoolDestroyedError.
func (p *Pool[T]) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return errors.WithStack(memutils.PoolDestroyedError)
	}

	if p.allocationCount > 0 {
		p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed pooled allocations",
			slog.Int("count", p.allocationCount),
			slog.Int("bytes", p.liveSlots*p.SlotSize()),
		)
	}

	err := errors.CombineErrors(p.oversized.Destroy(), p.blocks.Destroy())

	p.freeList = freelist.NewList(p.layout, &p.bootstrap)
	p.allocationCount = 0
	p.liveSlots = 0
	p.strandedBytes = 0
	p.destroyed = true

	return err
}
