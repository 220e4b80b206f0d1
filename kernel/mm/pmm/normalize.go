package pmm

import (
	"gopherefi/kernel"
	"gopherefi/kernel/efi"
	"gopherefi/kernel/mm"
)

var (
	errEmptyMemoryMap     = &kernel.Error{Module: "pmm", Message: "firmware memory map is empty"}
	errNonIdentityMapping = &kernel.Error{Module: "pmm", Message: "memory region is not identity mapped"}
	errUnalignedRegion    = &kernel.Error{Module: "pmm", Message: "memory region is not page-aligned"}
	errOverlappingRegions = &kernel.Error{Module: "pmm", Message: "memory regions overlap"}
)

// Layout summarizes a normalized memory map.
type Layout struct {
	// BlockCount is the number of maximal runs of physically contiguous
	// regions.
	BlockCount int

	// TotalPages is the number of pages across all regions, including
	// the ones that can never be allocated.
	TotalPages uintptr
}

// Normalize sorts the memory map in place by ascending physical address,
// validates every region and counts the blocks and pages it describes.
//
// Regions must be identity mapped. Firmware leaves VirtualStart set to zero
// until SetVirtualAddressMap is called so a zero virtual address is treated
// as unassigned.
func Normalize(memMap *efi.MemoryMap) (Layout, *kernel.Error) {
	var layout Layout

	sortMemoryMap(memMap)

	for i := 0; i < memMap.Len(); i++ {
		desc := memMap.Descriptor(i)

		if desc.VirtualStart != 0 && desc.VirtualStart != desc.PhysicalStart {
			return Layout{}, errNonIdentityMapping
		}

		if desc.PhysicalStart&uint64(mm.PageSize-1) != 0 {
			return Layout{}, errUnalignedRegion
		}

		if i+1 < memMap.Len() && desc.End() > memMap.Descriptor(i+1).PhysicalStart {
			return Layout{}, errOverlappingRegions
		}

		if !contiguousWithNext(memMap, i) {
			layout.BlockCount++
		}
		layout.TotalPages += uintptr(desc.NumberOfPages)
	}

	if layout.BlockCount == 0 {
		return Layout{}, errEmptyMemoryMap
	}

	return layout, nil
}

// sortMemoryMap performs a stable insertion sort of the map records by
// PhysicalStart. Firmware maps are short and usually almost sorted.
func sortMemoryMap(memMap *efi.MemoryMap) {
	for i := 1; i < memMap.Len(); i++ {
		for j := i; j > 0 && memMap.Descriptor(j-1).PhysicalStart > memMap.Descriptor(j).PhysicalStart; j-- {
			memMap.Swap(j-1, j)
		}
	}
}

// contiguousWithNext returns true if region i+1 starts exactly where region
// i ends. The map must be sorted.
func contiguousWithNext(memMap *efi.MemoryMap, i int) bool {
	return i+1 < memMap.Len() && memMap.Descriptor(i).End() == memMap.Descriptor(i+1).PhysicalStart
}

// BlockVisitor is invoked by VisitBlocks for each block of a sorted map.
type BlockVisitor func(startAddress, pageCount uintptr)

// VisitBlocks walks a sorted memory map and invokes visitor once per block
// in ascending address order.
func VisitBlocks(memMap *efi.MemoryMap, visitor BlockVisitor) {
	var startAddress, pageCount uintptr

	for i := 0; i < memMap.Len(); i++ {
		desc := memMap.Descriptor(i)
		if pageCount == 0 {
			startAddress = uintptr(desc.PhysicalStart)
		}
		pageCount += uintptr(desc.NumberOfPages)

		if !contiguousWithNext(memMap, i) {
			visitor(startAddress, pageCount)
			pageCount = 0
		}
	}
}

// findMetadataRegion returns the start of the first run of address-contiguous
// conventional memory regions that can hold size bytes. Page 0 is never
// part of a run.
func findMetadataRegion(memMap *efi.MemoryMap, size uintptr) (uintptr, bool) {
	var (
		runStart, runSize uintptr
		inRun             bool
	)

	for i := 0; i < memMap.Len(); i++ {
		desc := memMap.Descriptor(i)
		if desc.Type != efi.ConventionalMemory {
			inRun = false
			continue
		}

		start, pages := uintptr(desc.PhysicalStart), uintptr(desc.NumberOfPages)
		if start == 0 && pages != 0 {
			start, pages = mm.PageSize, pages-1
		}

		if !inRun {
			runStart, runSize, inRun = start, 0, true
		}

		runSize += pages << mm.PageShift
		if runSize >= size {
			return runStart, true
		}

		if !contiguousWithNext(memMap, i) {
			inRun = false
		}
	}

	return 0, false
}
