package region

import (
	"github.com/dbforge/bdbcore/errs"
)

// Ptr is a region-relative offset, never a machine address, per
// spec.md §9 "Region-relative pointers": a RegionPtr[T](offset) that a
// process resolves against its own mapping of the region.
type Ptr uint32

// InvalidPtr is the sentinel meaning "no allocation" (the zero offset is a
// legitimate allocation in this arena, so NULL is represented out of band).
const InvalidPtr Ptr = ^Ptr(0)

// freeBlock is the header threaded through free space; it lives inline in
// the arena at the block's own offset so no side table is needed, mirroring
// the original's embedded free-list-over-the-arena design.
type freeBlock struct {
	size uint32 // total size of this free block, header included
	next Ptr    // offset of the next free block, or InvalidPtr
}

const freeBlockHeaderSize = 8 // size(4) + next(4), see encode/decode below

// Allocator is a single-region best-fit allocator over a byte arena. It
// never calls into the Go heap after construction: shalloc/shalloc_free
// only move bytes within the arena and maintain an intrusive free list, so
// the arena could in principle be backed by real shared memory.
type Allocator struct {
	arena []byte
	free  Ptr // head of the free list
}

// NewAllocator carves an allocator over size bytes, starting as one large
// free block spanning the whole arena.
func NewAllocator(size uint32) *Allocator {
	a := &Allocator{arena: make([]byte, size), free: 0}
	a.putFreeBlock(0, size, InvalidPtr)
	return a
}

func (a *Allocator) putFreeBlock(off Ptr, size uint32, next Ptr) {
	encodeU32(a.arena[off:], size)
	encodeU32(a.arena[off+4:], uint32(next))
}

func (a *Allocator) readFreeBlock(off Ptr) freeBlock {
	return freeBlock{
		size: decodeU32(a.arena[off:]),
		next: Ptr(decodeU32(a.arena[off+4:])),
	}
}

func encodeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// minSplit is the smallest remainder worth carving off a block being split;
// below this the whole block is handed to the caller instead (internal
// fragmentation is cheaper than a free block too small to ever satisfy a
// future request).
const minSplit = 16

// Shalloc returns a region-relative pointer to a zeroed block of at least
// size bytes chosen by best fit, or ErrNoSpace if nothing fits.
func (a *Allocator) Shalloc(size uint32) (Ptr, error) {
	need := size + freeBlockHeaderSize
	var bestOff, bestPrev Ptr = InvalidPtr, InvalidPtr
	var bestSize uint32
	var prev Ptr = InvalidPtr

	for cur := a.free; cur != InvalidPtr; {
		blk := a.readFreeBlock(cur)
		if blk.size >= need && (bestOff == InvalidPtr || blk.size < bestSize) {
			bestOff, bestSize, bestPrev = cur, blk.size, prev
		}
		prev = cur
		cur = blk.next
	}
	if bestOff == InvalidPtr {
		return InvalidPtr, errs.Wrap(errs.ErrNoSpace, "region: no %d-byte block available", size)
	}

	blk := a.readFreeBlock(bestOff)
	remaining := blk.size - need
	if remaining >= minSplit+freeBlockHeaderSize {
		// Split: caller gets [bestOff, bestOff+need), the remainder becomes
		// a smaller free block replacing this one in the list.
		newFree := bestOff + Ptr(need)
		a.putFreeBlock(newFree, remaining, blk.next)
		a.relink(bestPrev, bestOff, newFree)
	} else {
		a.relink(bestPrev, bestOff, blk.next)
	}

	dataOff := bestOff + freeBlockHeaderSize
	clear(a.arena[dataOff : dataOff+size])
	return dataOff, nil
}

func (a *Allocator) relink(prev, old, next Ptr) {
	if prev == InvalidPtr {
		a.free = next
		return
	}
	prevBlk := a.readFreeBlock(prev)
	a.putFreeBlock(prev, prevBlk.size, next)
}

// ShallocFree releases a block obtained from Shalloc back to the free list.
// The freed region is pushed to the head of the list; no coalescing with
// neighbors is attempted, matching the original's simple best-fit design
// (see spec.md §9, which only asks for region-relative offsets, not a
// particular fragmentation strategy).
func (a *Allocator) ShallocFree(p Ptr, size uint32) {
	off := p - freeBlockHeaderSize
	a.putFreeBlock(off, size+freeBlockHeaderSize, a.free)
	a.free = off
}

// Bytes returns the raw slice backing p for size bytes, for callers that
// need to read or write the allocated payload directly.
func (a *Allocator) Bytes(p Ptr, size uint32) []byte {
	return a.arena[p : p+size]
}
