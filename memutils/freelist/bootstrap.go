package freelist

import (
	"fmt"
	"unsafe"
)

// Bootstrap hands node storage to a List without the List ever calling back into the pool that owns
// it. The pool stashes the address of a chunk it is about to insert; the list requests that address
// as storage for the new node. On removal the list releases the node's address and the pool takes it
// back. At most one address is ever pending.
type Bootstrap struct {
	pending  unsafe.Pointer
	requests int
	releases int
}

// Stash leaves ptr for the next RequestOne
func (b *Bootstrap) Stash(ptr unsafe.Pointer) {
	if b.pending != nil {
		panic(fmt.Sprintf("bootstrap already holds pending address %p", b.pending))
	}
	if ptr == nil {
		panic("attempted to stash a nil address")
	}
	b.pending = ptr
}

// Take collects the address left by the last ReleaseOne
func (b *Bootstrap) Take() unsafe.Pointer {
	if b.pending == nil {
		panic("bootstrap has no released address to take")
	}
	ptr := b.pending
	b.pending = nil
	return ptr
}

// RequestOne returns the stashed address as node storage for a single insertion
func (b *Bootstrap) RequestOne() unsafe.Pointer {
	if b.pending == nil {
		panic("list requested node storage but no address was stashed")
	}
	ptr := b.pending
	b.pending = nil
	b.requests++
	return ptr
}

// ReleaseOne accepts the node storage of a single removal
func (b *Bootstrap) ReleaseOne(ptr unsafe.Pointer) {
	if b.pending != nil {
		panic(fmt.Sprintf("list released %p while %p is still pending", ptr, b.pending))
	}
	b.pending = ptr
	b.releases++
}

// Pending reports whether an address is waiting to be requested or taken
func (b *Bootstrap) Pending() bool {
	return b.pending != nil
}

func (b *Bootstrap) Requests() int { return b.requests }
func (b *Bootstrap) Releases() int { return b.releases }
