package pmm

import (
	"gopherefi/kernel/efi"
	"gopherefi/kernel/kfmt"
	"gopherefi/kernel/mm"
)

// PrintMemoryMap outputs one line per region of the firmware memory map.
func PrintMemoryMap(memMap *efi.MemoryMap) {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalFree uint64
	for i := 0; i < memMap.Len(); i++ {
		desc := memMap.Descriptor(i)
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			desc.PhysicalStart, desc.End(), desc.NumberOfPages<<mm.PageShift, desc.Type.String(),
		)

		if desc.Type == efi.ConventionalMemory {
			totalFree += desc.NumberOfPages << mm.PageShift
		}
	}

	kfmt.Printf("[pmm] conventional memory: %dKb\n", totalFree/uint64(mm.Kb))
}

// PrintStats outputs the page counters of the kernel-wide allocator.
func PrintStats() {
	var blocks int
	var total, allocated uintptr

	// Printing happens outside the critical section.
	Allocator.With(func(alloc *PageAllocator) {
		blocks = len(alloc.blocks)
		total = alloc.TotalPages()
		allocated = alloc.AllocatedPages()
	})

	kfmt.Printf("[pmm] blocks: %d, pages: %d total, %d allocated, %d free\n",
		blocks, total, allocated, total-allocated,
	)
}
