// Package mm contains the page constants and size helpers shared by the
// physical memory manager and its consumers.
package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uintptr {
	return PagesFor(uintptr(s))
}

// PagesFor returns ceil(size / PageSize).
func PagesFor(size uintptr) uintptr {
	pages := size >> PageShift
	if size&(PageSize-1) != 0 {
		pages++
	}
	return pages
}

// PageAlignUp rounds addr up to the next page boundary.
func PageAlignUp(addr uintptr) uintptr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}
