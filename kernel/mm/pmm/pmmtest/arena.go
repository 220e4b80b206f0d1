// Package pmmtest initializes the kernel-wide page allocator over host
// memory so that packages built on top of it can be tested without
// firmware.
package pmmtest

import (
	"unsafe"

	"gopherefi/kernel"
	"gopherefi/kernel/efi"
	"gopherefi/kernel/mm"
	"gopherefi/kernel/mm/pmm"
)

// arena keeps the host memory handed to the allocator reachable for the
// lifetime of the test binary.
var arena []uint64

// Init reserves pageCount page-aligned pages of host memory, describes them
// to pmm.Init as a single conventional region and returns the address of the
// first page. The allocator metadata is placed at the start of the region.
func Init(pageCount uintptr) (uintptr, *kernel.Error) {
	arena = make([]uint64, (pageCount+1)*mm.PageSize/8)
	base := mm.PageAlignUp(uintptr(unsafe.Pointer(&arena[0])))

	var descBuf [5]uint64
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&descBuf[0])), unsafe.Sizeof(descBuf))
	*(*efi.MemoryDescriptor)(unsafe.Pointer(&buf[0])) = efi.MemoryDescriptor{
		Type:          efi.ConventionalMemory,
		PhysicalStart: uint64(base),
		VirtualStart:  uint64(base),
		NumberOfPages: uint64(pageCount),
	}

	memMap, err := efi.NewMemoryMap(buf, uintptr(len(buf)), uintptr(len(buf)))
	if err != nil {
		return 0, err
	}

	if err = pmm.Init(&memMap, true); err != nil {
		return 0, err
	}

	return base, nil
}

// FreePages returns the number of free pages of the kernel-wide allocator.
func FreePages() uintptr {
	var free uintptr
	pmm.Allocator.With(func(alloc *pmm.PageAllocator) {
		free = alloc.FreePages()
	})
	return free
}
