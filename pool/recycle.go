package pool

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/chunk"
	"golang.org/x/exp/slog"
)

// Recycle coalesces every pair of free chunks that sit next to each other in memory. Allocate does
// this on its own when a multi-slot request misses, unless PoolCreateNoRecycle is set.
func (p *Pool[T]) Recycle() error {
	p.logger.Debug("Pool::Recycle")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return errors.WithStack(memutils.PoolDestroyedError)
	}

	p.recycle()
	return nil
}

// recycle sorts the free list by address, merges each run of touching chunks into its first chunk,
// and leaves the list sorted largest first so the next first-fit scan sees the biggest chunks early
func (p *Pool[T]) recycle() {
	layout := p.layout
	before := p.freeList.Len()
	if before < 2 {
		return
	}

	p.freeList.Sort(func(a, b chunk.Chunk) bool {
		return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
	})

	c := p.freeList.Front()
	for c != nil {
		next := layout.Next(c)
		if next == nil {
			break
		}

		if !layout.Merge(c, next) {
			c = next
			continue
		}

		p.freeList.Remove(next)
		absorbed := p.bootstrap.Take()
		// The absorbed header is now part of c's data area
		memutils.WriteMagicValue(absorbed, p.layout.HeaderBytes())
	}

	p.freeList.Sort(func(a, b chunk.Chunk) bool {
		return layout.Size(a) > layout.Size(b)
	})

	memutils.DebugValidate(p.freeList)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Recycled free list",
		slog.Int("chunks.before", before),
		slog.Int("chunks.after", p.freeList.Len()),
	)
}
