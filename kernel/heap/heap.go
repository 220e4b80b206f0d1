// Package heap routes general purpose kernel allocations to the physical
// page allocator. Every allocation is rounded up to whole pages and memory
// is identity mapped, so the returned pointers are physical addresses.
package heap

import (
	"unsafe"

	"gopherefi/kernel"
	"gopherefi/kernel/mm"
	"gopherefi/kernel/mm/pmm"
)

// Alloc returns a pointer to a region of at least size bytes whose address is
// a multiple of align. It returns nil when no free run of pages can satisfy
// the request.
//
// A zero size reserves nothing and yields align itself as the pointer.
func Alloc(align, size uintptr) unsafe.Pointer {
	var (
		addr uintptr
		ok   bool
	)

	pmm.Allocator.With(func(alloc *pmm.PageAllocator) {
		addr, ok = alloc.Allocate(align, size)
	})

	if !ok {
		return nil
	}
	return unsafe.Pointer(addr)
}

// AllocZeroed behaves like Alloc but clears the returned region.
func AllocZeroed(align, size uintptr) unsafe.Pointer {
	ptr := Alloc(align, size)
	if ptr != nil {
		kernel.Memset(uintptr(ptr), 0, size)
	}
	return ptr
}

// Free releases a region returned by Alloc. The size must match the one used
// for the allocation. Pointers outside the tracked memory are ignored.
func Free(ptr unsafe.Pointer, align, size uintptr) {
	pmm.Allocator.With(func(alloc *pmm.PageAllocator) {
		alloc.Free(uintptr(ptr), size)
	})
}

// Realloc resizes a region returned by Alloc. If the page count does not
// change the region is returned as is; otherwise a new region is allocated,
// the first min(oldSize, newSize) bytes are copied over and the old region
// is released. Regions never grow in place.
//
// Realloc returns nil and leaves the old region untouched if the new region
// cannot be allocated.
func Realloc(ptr unsafe.Pointer, align, oldSize, newSize uintptr) unsafe.Pointer {
	if ptr != nil && mm.PagesFor(oldSize) == mm.PagesFor(newSize) {
		return ptr
	}

	newPtr := Alloc(align, newSize)
	if newPtr == nil {
		return nil
	}

	if ptr != nil {
		kernel.Memcopy(uintptr(ptr), uintptr(newPtr), min(oldSize, newSize))
		Free(ptr, align, oldSize)
	}

	return newPtr
}
