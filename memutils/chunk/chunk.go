package chunk

import (
	"unsafe"
)

const (
	// LinkCount is the number of free-list link slots at the start of every chunk header
	LinkCount = 2
	// Padding is the number of slots occupied by a chunk header: the links followed by the size
	Padding = LinkCount + 1
)

const (
	prevSlot = 0
	nextSlot = 1
	sizeSlot = LinkCount
)

// Chunk is the address of a free run of slots. The first Padding slots hold the chunk's header:
//
//	| prev | next | size | data0 | data1 | ...
//
// While the run is free those slots are header words; once it is handed out the whole run is raw
// element data. Nothing outside the run records its identity.
type Chunk unsafe.Pointer

// Layout performs chunk header reads and writes for one slot size. Every offset computed by a Layout
// is a multiple of the slot size, so header words are always slot-aligned.
//
// Links are stored as plain addresses. Header words overwrite element data, and pool memory is never
// scanned by the garbage collector, so typed pointer stores there would hand stale element bytes to
// the write barrier.
type Layout struct {
	slotSize uintptr
}

// NewLayout creates a Layout for slots of slotSize bytes. slotSize must be at least the size of a
// uintptr and a multiple of its alignment.
func NewLayout(slotSize uintptr) Layout {
	if slotSize < unsafe.Sizeof(uintptr(0)) || slotSize%unsafe.Alignof(uintptr(0)) != 0 {
		panic("slot size cannot hold a chunk header word")
	}
	return Layout{slotSize: slotSize}
}

// SlotSize returns the size in bytes of a single slot
func (l Layout) SlotSize() uintptr { return l.slotSize }

// HeaderBytes returns the number of bytes occupied by a chunk header
func (l Layout) HeaderBytes() uintptr { return Padding * l.slotSize }

func (l Layout) slot(c Chunk, index uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(c), index*l.slotSize)
}

// Init writes a fresh header at c encoding size slots, with both links cleared
func (l Layout) Init(c Chunk, size int) {
	*(*uintptr)(l.slot(c, prevSlot)) = 0
	*(*uintptr)(l.slot(c, nextSlot)) = 0
	*(*uintptr)(l.slot(c, sizeSlot)) = uintptr(size)
}

// Size returns the slot count stored in c's header
func (l Layout) Size(c Chunk) int {
	return int(*(*uintptr)(l.slot(c, sizeSlot)))
}

func (l Layout) setSize(c Chunk, size int) {
	*(*uintptr)(l.slot(c, sizeSlot)) = uintptr(size)
}

// Prev returns the chunk linked before c, or nil if c is first
func (l Layout) Prev(c Chunk) Chunk {
	return Chunk(unsafe.Pointer(*(*uintptr)(l.slot(c, prevSlot))))
}

// Next returns the chunk linked after c, or nil if c is last
func (l Layout) Next(c Chunk) Chunk {
	return Chunk(unsafe.Pointer(*(*uintptr)(l.slot(c, nextSlot))))
}

// SetPrev links prev before c
func (l Layout) SetPrev(c Chunk, prev Chunk) {
	*(*uintptr)(l.slot(c, prevSlot)) = uintptr(unsafe.Pointer(prev))
}

// SetNext links next after c
func (l Layout) SetNext(c Chunk, next Chunk) {
	*(*uintptr)(l.slot(c, nextSlot)) = uintptr(unsafe.Pointer(next))
}

// CanAllocNode reports whether needed slots can be carved from the tail of c while leaving room
// for c's own header and at least one slot
func (l Layout) CanAllocNode(c Chunk, needed int) bool {
	return l.Size(c) > Padding+needed
}

// Carve shrinks c by needed+Padding slots and returns the address immediately after the shrunk
// chunk. The returned run spans needed+Padding slots, enough for a header once it is freed again.
// c keeps its address and its links, so the free list is not touched.
//
// Carve panics if CanAllocNode(c, needed) is false.
func (l Layout) Carve(c Chunk, needed int) unsafe.Pointer {
	if !l.CanAllocNode(c, needed) {
		panic("chunk too small to carve the requested slots")
	}
	l.setSize(c, l.Size(c)-needed-Padding)
	return l.AddressAfter(c)
}

// Merge absorbs other into base if other starts exactly where base ends. It returns false and
// leaves both chunks untouched otherwise.
func (l Layout) Merge(base, other Chunk) bool {
	if l.AddressAfter(base) != unsafe.Pointer(other) {
		return false
	}
	l.setSize(base, l.Size(base)+l.Size(other)+Padding)
	return true
}

// AddressAfter returns the first address past the end of c
func (l Layout) AddressAfter(c Chunk) unsafe.Pointer {
	return l.slot(c, uintptr(l.Size(c))+Padding)
}

// SpanBytes returns the number of bytes covered by c, header included
func (l Layout) SpanBytes(c Chunk) uintptr {
	return (uintptr(l.Size(c)) + Padding) * l.slotSize
}

// DataAddress returns the address of the first slot after c's header
func (l Layout) DataAddress(c Chunk) unsafe.Pointer {
	return l.slot(c, Padding)
}

// DataBytes returns the number of bytes between the end of c's header and the end of c
func (l Layout) DataBytes(c Chunk) uintptr {
	return uintptr(l.Size(c)) * l.slotSize
}

// Contains reports whether addr lies within the run of c
func (l Layout) Contains(c Chunk, addr unsafe.Pointer) bool {
	start := uintptr(unsafe.Pointer(c))
	return uintptr(addr) >= start && uintptr(addr) < start+l.SpanBytes(c)
}
