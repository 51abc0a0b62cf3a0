package pool

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/sysmem"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

type memoryBlock struct {
	id   int
	base unsafe.Pointer
}

func (b memoryBlock) address() uintptr { return uintptr(b.base) }

// blockList owns every block a pool has reserved. Blocks are kept sorted by base address so that
// any address can be mapped back to its block with a binary search.
type blockList struct {
	logger    *slog.Logger
	allocator sysmem.Allocator
	blockSize int

	blocks      []memoryBlock
	nextBlockID int
}

func compareBlockAddress(block memoryBlock, address uintptr) int {
	switch {
	case block.address() < address:
		return -1
	case block.address() > address:
		return 1
	default:
		return 0
	}
}

func (l *blockList) Init(logger *slog.Logger, allocator sysmem.Allocator, blockSize int) {
	l.logger = logger
	l.allocator = allocator
	l.blockSize = blockSize
}

func (l *blockList) Count() int      { return len(l.blocks) }
func (l *blockList) TotalBytes() int { return len(l.blocks) * l.blockSize }

// Create reserves a new block from the system allocator and returns its base address
func (l *blockList) Create(alignment uintptr) (unsafe.Pointer, error) {
	base, err := l.allocator.Alloc(l.blockSize)
	if err != nil {
		return nil, memutils.WithKind(errors.Wrapf(err, "failed to allocate a %d-byte block", l.blockSize), memutils.SystemAllocationError)
	}
	if base == nil {
		return nil, memutils.WithKind(errors.Newf("system allocator returned nil for a %d-byte block", l.blockSize), memutils.SystemAllocationError)
	}
	if uintptr(base)%alignment != 0 {
		freeErr := l.allocator.Free(base, l.blockSize)
		return nil, errors.CombineErrors(
			memutils.WithKind(errors.Newf("block address %p is not aligned to %d bytes", base, alignment), memutils.SystemAllocationError),
			freeErr,
		)
	}

	index, found := slices.BinarySearchFunc(l.blocks, uintptr(base), compareBlockAddress)
	if found {
		panic(errors.AssertionFailedf("system allocator returned block address %p twice", base))
	}

	block := memoryBlock{id: l.nextBlockID, base: base}
	l.nextBlockID++
	l.blocks = slices.Insert(l.blocks, index, block)

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block",
		slog.Int("block.id", block.id),
		slog.Int("block.size", l.blockSize),
		slog.Int("block.count", len(l.blocks)),
	)

	return base, nil
}

// Find returns the block containing ptr
func (l *blockList) Find(ptr unsafe.Pointer) (memoryBlock, bool) {
	index, found := slices.BinarySearchFunc(l.blocks, uintptr(ptr), compareBlockAddress)
	if found {
		return l.blocks[index], true
	}
	if index == 0 {
		return memoryBlock{}, false
	}

	block := l.blocks[index-1]
	if uintptr(ptr) >= block.address()+uintptr(l.blockSize) {
		return memoryBlock{}, false
	}
	return block, true
}

func (l *blockList) Contains(ptr unsafe.Pointer) bool {
	_, found := l.Find(ptr)
	return found
}

// Destroy returns every block to the system allocator
func (l *blockList) Destroy() error {
	var err error
	for _, block := range l.blocks {
		err = errors.CombineErrors(err, l.allocator.Free(block.base, l.blockSize))
	}
	l.blocks = nil
	return err
}

func (l *blockList) Validate() error {
	for i := 1; i < len(l.blocks); i++ {
		previous := l.blocks[i-1]
		if previous.address()+uintptr(l.blockSize) > l.blocks[i].address() {
			return errors.Newf("block %d at %p overlaps block %d at %p", previous.id, previous.base, l.blocks[i].id, l.blocks[i].base)
		}
	}
	return nil
}

func (l *blockList) PrintDetailedMap(json *jwriter.ObjectState) {
	array := json.Name("Blocks").Array()
	defer array.End()

	for _, block := range l.blocks {
		obj := array.Object()
		obj.Name("ID").Int(block.id)
		obj.Name("Address").String(hexAddress(block.base))
		obj.Name("Size").Int(l.blockSize)
		obj.End()
	}
}
