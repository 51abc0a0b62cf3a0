package pool

import (
	"strings"

	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/sysmem"
)

type CreateFlags int32

var createFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	createFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// PoolCreateExternallySynchronized disables the pool's internal mutex. The caller guarantees that
	// the pool is only ever used from one goroutine at a time, typically by giving each worker its
	// own pool.
	PoolCreateExternallySynchronized CreateFlags = 1 << iota
	// PoolCreateNoRecycle stops the pool from coalescing its free list when a multi-slot request
	// misses. A miss always grows a new block instead. Recycle can still be called explicitly.
	PoolCreateNoRecycle
)

func init() {
	PoolCreateExternallySynchronized.Register("PoolCreateExternallySynchronized")
	PoolCreateNoRecycle.Register("PoolCreateNoRecycle")
}

// DefaultBlockSize is the block size used when CreateOptions.BlockSize is zero
const DefaultBlockSize = 32 * memutils.KiB

// CreateOptions configures a new Pool
type CreateOptions struct {
	Flags CreateFlags

	// BlockSize is the size in bytes of every block the pool reserves from the system allocator. It
	// must be a power of two large enough to hold two chunk headers. Zero selects DefaultBlockSize.
	BlockSize int
	// SystemAllocator supplies blocks and oversized allocations. Nil selects sysmem.Default().
	SystemAllocator sysmem.Allocator
}
