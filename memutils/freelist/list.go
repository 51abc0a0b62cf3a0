package freelist

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/chunk"
)

// List is an intrusive doubly linked list of free chunks. Its nodes are the chunk headers
// themselves, so the list owns no memory: node storage for an insertion comes from the Bootstrap
// and goes back to it on removal.
type List struct {
	layout    chunk.Layout
	bootstrap *Bootstrap

	head   chunk.Chunk
	length int
}

var _ memutils.Validatable = &List{}

func NewList(layout chunk.Layout, bootstrap *Bootstrap) *List {
	return &List{
		layout:    layout,
		bootstrap: bootstrap,
	}
}

func (l *List) Layout() chunk.Layout { return l.layout }
func (l *List) Front() chunk.Chunk    { return l.head }
func (l *List) Len() int              { return l.length }

// Next returns the chunk after c, or nil at the end of the list
func (l *List) Next(c chunk.Chunk) chunk.Chunk {
	return l.layout.Next(c)
}

// PushFront requests node storage from the bootstrap, writes a header of size slots there, and
// links the new chunk at the front of the list
func (l *List) PushFront(size int) chunk.Chunk {
	c := chunk.Chunk(l.bootstrap.RequestOne())
	l.layout.Init(c, size)

	if l.head != nil {
		l.layout.SetNext(c, l.head)
		l.layout.SetPrev(l.head, c)
	}
	l.head = c
	l.length++

	return c
}

// Remove unlinks c and releases its storage to the bootstrap
func (l *List) Remove(c chunk.Chunk) {
	memutils.DebugAssert(l.length > 0, "attempted to remove chunk %p from an empty list", c)

	prev := l.layout.Prev(c)
	next := l.layout.Next(c)

	if prev != nil {
		l.layout.SetNext(prev, next)
	} else {
		memutils.DebugAssert(l.head == c, "chunk %p has no predecessor but is not the list head", c)
		l.head = next
	}

	if next != nil {
		l.layout.SetPrev(next, prev)
	}

	l.layout.SetPrev(c, nil)
	l.layout.SetNext(c, nil)
	l.length--

	l.bootstrap.ReleaseOne(unsafe.Pointer(c))
}

// Sort reorders the list so that for every pair of neighbours less(next, current) is false. It is a
// stable bottom-up merge sort that relinks headers in place, so it allocates nothing and never
// touches the bootstrap.
func (l *List) Sort(less func(a, b chunk.Chunk) bool) {
	if l.length < 2 {
		return
	}

	layout := l.layout
	list := l.head

	for runSize := 1; ; runSize *= 2 {
		p := list
		var head, tail chunk.Chunk
		merges := 0

		for p != nil {
			merges++

			q := p
			pSize := 0
			for pSize < runSize && q != nil {
				pSize++
				q = layout.Next(q)
			}
			qSize := runSize

			for pSize > 0 || (qSize > 0 && q != nil) {
				var next chunk.Chunk
				if pSize == 0 {
					next, q = q, layout.Next(q)
					qSize--
				} else if qSize == 0 || q == nil || !less(q, p) {
					next, p = p, layout.Next(p)
					pSize--
				} else {
					next, q = q, layout.Next(q)
					qSize--
				}

				if tail != nil {
					layout.SetNext(tail, next)
				} else {
					head = next
				}
				tail = next
			}

			p = q
		}

		layout.SetNext(tail, nil)
		list = head

		if merges <= 1 {
			break
		}
	}

	var prev chunk.Chunk
	for c := list; c != nil; c = layout.Next(c) {
		layout.SetPrev(c, prev)
		prev = c
	}
	l.head = list
}

func (l *List) Validate() error {
	var prev chunk.Chunk
	count := 0

	for c := l.head; c != nil; c = l.layout.Next(c) {
		if count >= l.length {
			return errors.Newf("free list holds more than its recorded %d chunks", l.length)
		}
		if l.layout.Prev(c) != prev {
			return errors.Newf("chunk %p links back to %p instead of %p", c, l.layout.Prev(c), prev)
		}
		if l.layout.Size(c) < 1 {
			return errors.Newf("chunk %p has invalid size %d", c, l.layout.Size(c))
		}

		prev = c
		count++
	}

	if count != l.length {
		return errors.Newf("free list holds %d chunks but recorded %d", count, l.length)
	}

	return nil
}
