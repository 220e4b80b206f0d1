package pmm

import (
	"unsafe"

	"gopherefi/kernel"
	"gopherefi/kernel/efi"
	"gopherefi/kernel/kfmt"
	"gopherefi/kernel/mm"
	"gopherefi/kernel/sync"
)

var (
	// Allocator is the kernel-wide page allocator. It is empty until Init
	// succeeds and must only be accessed through With, which keeps
	// interrupt handlers from preempting a lock holder.
	Allocator sync.IRQMutex[PageAllocator]

	// overlayFn returns a pointer through which the physical region
	// [addr, addr+size) can be accessed. Physical memory is identity
	// mapped; tests substitute a translation into a host buffer.
	overlayFn = func(addr, _ uintptr) unsafe.Pointer {
		return unsafe.Pointer(addr)
	}

	errAlreadyInitialized = &kernel.Error{Module: "pmm", Message: "page allocator already initialized"}
	errNoMetadataRegion   = &kernel.Error{Module: "pmm", Message: "no conventional memory region can hold the allocator metadata"}
)

// Init builds the kernel-wide page allocator from the firmware memory map.
// The block table and page bitmap are stored inside the first run of
// conventional memory large enough to hold them; those pages, page 0 and
// every region that is not allocatable are reported as allocated.
//
// The map is sorted in place. Init must be called exactly once, with
// interrupts disabled, after the memory map has been fetched.
func Init(memMap *efi.MemoryMap, bootServicesExited bool) *kernel.Error {
	var initialized bool
	Allocator.With(func(alloc *PageAllocator) {
		initialized = alloc.blocks != nil
	})
	if initialized {
		return errAlreadyInitialized
	}

	alloc, metadataStart, metadataSize, err := build(memMap, bootServicesExited)
	if err != nil {
		return err
	}

	Allocator.With(func(global *PageAllocator) {
		*global = alloc
	})

	kfmt.Printf("[pmm] tracking %d pages in %d blocks; metadata: %d bytes at 0x%x\n",
		alloc.TotalPages(), len(alloc.blocks), metadataSize, metadataStart,
	)

	return nil
}

// Build creates a standalone page allocator for memMap following the same
// rules as Init. The returned allocator is not synchronized and is not
// reachable through Allocator.
func Build(memMap *efi.MemoryMap, bootServicesExited bool) (PageAllocator, *kernel.Error) {
	alloc, _, _, err := build(memMap, bootServicesExited)
	return alloc, err
}

func build(memMap *efi.MemoryMap, bootServicesExited bool) (PageAllocator, uintptr, uintptr, *kernel.Error) {
	layout, err := Normalize(memMap)
	if err != nil {
		return PageAllocator{}, 0, 0, err
	}

	tableSize := uintptr(layout.BlockCount) * unsafe.Sizeof(Block{})
	bitmapSize := (layout.TotalPages + 7) >> 3
	metadataSize := tableSize + bitmapSize

	metadataStart, ok := findMetadataRegion(memMap, metadataSize)
	if !ok {
		return PageAllocator{}, 0, 0, errNoMetadataRegion
	}

	region := overlayFn(metadataStart, metadataSize)
	kernel.Memset(uintptr(region), 0, metadataSize)

	var alloc PageAllocator
	alloc.blocks = unsafe.Slice((*Block)(region), layout.BlockCount)[:0]
	alloc.bitmap = unsafe.Slice((*uint8)(unsafe.Add(region, tableSize)), bitmapSize)

	var nextBit uintptr
	VisitBlocks(memMap, func(startAddress, pageCount uintptr) {
		alloc.blocks = append(alloc.blocks, Block{
			StartAddress: startAddress,
			PageCount:    pageCount,
			BitmapStart:  nextBit,
		})
		nextBit += pageCount
	})

	for i := 0; i < memMap.Len(); i++ {
		desc := memMap.Descriptor(i)
		if !desc.Type.Allocatable(bootServicesExited) {
			alloc.markRange(uintptr(desc.PhysicalStart), uintptr(desc.NumberOfPages), true)
		}
	}
	alloc.markRange(metadataStart, mm.PagesFor(metadataSize), true)
	alloc.SetAllocated(0, true)

	return alloc, metadataStart, metadataSize, nil
}
