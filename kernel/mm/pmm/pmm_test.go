package pmm

import (
	"testing"
	"unsafe"

	"gopherefi/kernel/efi"
)

// fwDescSize is wider than efi.MemoryDescriptor, as reported by most
// firmware implementations.
const fwDescSize = 48

type region struct {
	memType efi.MemoryType
	start   uint64
	pages   uint64
}

func buildMap(t *testing.T, regions ...region) *efi.MemoryMap {
	t.Helper()

	words := make([]uint64, len(regions)*fwDescSize/8+1)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(regions)*fwDescSize)
	for i, r := range regions {
		*(*efi.MemoryDescriptor)(unsafe.Pointer(&buf[i*fwDescSize])) = efi.MemoryDescriptor{
			Type:          r.memType,
			PhysicalStart: r.start,
			VirtualStart:  r.start,
			NumberOfPages: r.pages,
		}
	}

	memMap, err := efi.NewMemoryMap(buf, uintptr(len(buf)), fwDescSize)
	if err != nil {
		t.Fatal(err)
	}
	return &memMap
}

// useHostMetadata redirects the metadata overlay into host memory and resets
// the kernel-wide allocator. The returned function records the physical
// address of the last overlaid region.
func useHostMetadata(t *testing.T) func() uintptr {
	origOverlay := overlayFn
	t.Cleanup(func() {
		overlayFn = origOverlay
		resetAllocator()
	})

	var lastAddr uintptr
	overlayFn = func(addr, size uintptr) unsafe.Pointer {
		lastAddr = addr
		words := make([]uint64, size/8+1)
		// Poison the buffer so tests notice if it is not zeroed.
		for i := range words {
			words[i] = ^uint64(0)
		}
		return unsafe.Pointer(&words[0])
	}

	resetAllocator()
	return func() uintptr { return lastAddr }
}

func resetAllocator() {
	Allocator.With(func(alloc *PageAllocator) {
		*alloc = PageAllocator{}
	})
}
