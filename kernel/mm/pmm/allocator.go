// Package pmm implements the physical memory manager: it normalizes the
// firmware memory map and tracks every physical page with a bitmap whose
// storage is carved out of the memory it describes.
package pmm

import (
	"math/bits"

	"gopherefi/kernel/mm"
)

// Block describes a maximal run of physically contiguous memory. Page i of
// the block lives at StartAddress + i*PageSize and is tracked by bitmap bit
// BitmapStart + i.
type Block struct {
	StartAddress uintptr
	PageCount    uintptr
	BitmapStart  uintptr
}

// contains returns true if addr falls inside the block.
func (b *Block) contains(addr uintptr) bool {
	return addr >= b.StartAddress && (addr-b.StartAddress)>>mm.PageShift < b.PageCount
}

// PageAllocator is a first-fit physical page allocator. A set bitmap bit
// marks a page as unavailable: allocated, reserved by firmware, or holding
// the allocator's own metadata.
//
// PageAllocator methods are not synchronized. The kernel-wide instance is
// only reachable through Allocator.
type PageAllocator struct {
	blocks []Block
	bitmap []uint8
}

// Blocks returns the blocks tracked by the allocator in ascending address
// order. The returned slice must not be modified.
func (alloc *PageAllocator) Blocks() []Block {
	return alloc.blocks
}

// blockFor returns the block containing addr or nil if addr lies outside
// every block.
func (alloc *PageAllocator) blockFor(addr uintptr) *Block {
	for i := range alloc.blocks {
		if alloc.blocks[i].contains(addr) {
			return &alloc.blocks[i]
		}
	}

	return nil
}

// bitIndex maps a physical address to its bitmap bit.
func (alloc *PageAllocator) bitIndex(addr uintptr) (uintptr, bool) {
	block := alloc.blockFor(addr)
	if block == nil {
		return 0, false
	}

	return block.BitmapStart + (addr-block.StartAddress)>>mm.PageShift, true
}

func (alloc *PageAllocator) testBit(index uintptr) bool {
	return alloc.bitmap[index>>3]&(1<<(index&7)) != 0
}

func (alloc *PageAllocator) setBit(index uintptr, value bool) {
	if value {
		alloc.bitmap[index>>3] |= 1 << (index & 7)
	} else {
		alloc.bitmap[index>>3] &^= 1 << (index & 7)
	}
}

// GetAllocated reports whether the page containing addr is unavailable. The
// second return value is false if addr is not covered by any block.
func (alloc *PageAllocator) GetAllocated(addr uintptr) (bool, bool) {
	index, ok := alloc.bitIndex(addr)
	if !ok {
		return false, false
	}

	return alloc.testBit(index), true
}

// SetAllocated marks the page containing addr as allocated or free. It
// returns false if addr is not covered by any block.
func (alloc *PageAllocator) SetAllocated(addr uintptr, value bool) bool {
	index, ok := alloc.bitIndex(addr)
	if ok {
		alloc.setBit(index, value)
	}

	return ok
}

// markRange sets the state of pageCount pages starting at addr. Pages outside
// every block are skipped.
func (alloc *PageAllocator) markRange(addr, pageCount uintptr, value bool) {
	for pageCount > 0 {
		block := alloc.blockFor(addr)
		if block == nil {
			addr += mm.PageSize
			pageCount--
			continue
		}

		first := (addr - block.StartAddress) >> mm.PageShift
		count := min(pageCount, block.PageCount-first)
		for page := first; page < first+count; page++ {
			alloc.setBit(block.BitmapStart+page, value)
		}

		addr += count << mm.PageShift
		pageCount -= count
	}
}

// Allocate reserves enough contiguous pages to hold size bytes, starting at
// an address that is a multiple of alignment. Blocks are searched in
// ascending order and the first fitting run of free pages wins; a run never
// spans two blocks. Allocate returns false if no block has a fitting run.
//
// An alignment of 0 is treated as 1. A zero size reserves nothing and
// returns alignment itself as the address.
func (alloc *PageAllocator) Allocate(alignment, size uintptr) (uintptr, bool) {
	if alignment == 0 {
		alignment = 1
	}

	if size == 0 {
		return alignment, true
	}

	required := mm.PagesFor(size)
	for i := range alloc.blocks {
		block := &alloc.blocks[i]

		var runStart, runLen uintptr
		for page := uintptr(0); page < block.PageCount; page++ {
			if alloc.testBit(block.BitmapStart + page) {
				runLen = 0
				continue
			}

			if runLen == 0 {
				if (block.StartAddress+page<<mm.PageShift)%alignment != 0 {
					continue
				}
				runStart = page
			}

			if runLen++; runLen == required {
				for p := runStart; p < runStart+required; p++ {
					alloc.setBit(block.BitmapStart+p, true)
				}
				return block.StartAddress + runStart<<mm.PageShift, true
			}
		}
	}

	return 0, false
}

// Free releases the pages backing [addr, addr+size). A zero size is a no-op
// and pages outside every block are silently ignored.
func (alloc *PageAllocator) Free(addr, size uintptr) {
	if size == 0 {
		return
	}

	alloc.markRange(addr, mm.PagesFor(size), false)
}

// TotalPages returns the number of pages tracked by the allocator.
func (alloc *PageAllocator) TotalPages() uintptr {
	var total uintptr
	for i := range alloc.blocks {
		total += alloc.blocks[i].PageCount
	}

	return total
}

// AllocatedPages returns the number of unavailable pages. It scans the
// whole bitmap and is meant for diagnostics.
func (alloc *PageAllocator) AllocatedPages() uintptr {
	var count int
	for _, b := range alloc.bitmap {
		count += bits.OnesCount8(b)
	}

	return uintptr(count)
}

// FreePages returns the number of pages available for allocation. It scans
// the whole bitmap and is meant for diagnostics.
func (alloc *PageAllocator) FreePages() uintptr {
	return alloc.TotalPages() - alloc.AllocatedPages()
}
