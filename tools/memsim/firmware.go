package main

import (
	"math/rand"
	"unsafe"

	"github.com/pkg/errors"

	"gopherefi/kernel/efi"
	"gopherefi/kernel/mm"
)

const (
	// minLeadingPages is the size of the conventional region that always
	// starts the arena so the allocator metadata has somewhere to live.
	minLeadingPages = 4

	// mmioPages is the size of the device window described past the end
	// of the arena. It is never backed by memory.
	mmioPages = 16
)

// regionWeights drives the random choice of region types. Holes are ranges
// that the firmware does not describe at all.
var regionWeights = []struct {
	memType efi.MemoryType
	hole    bool
	weight  int
}{
	{efi.ConventionalMemory, false, 55},
	{efi.BootServicesData, false, 10},
	{efi.BootServicesCode, false, 5},
	{efi.LoaderData, false, 5},
	{efi.ACPIReclaimMemory, false, 5},
	{efi.RuntimeServicesData, false, 5},
	{efi.ReservedMemoryType, false, 5},
	{0, true, 10},
}

func pickRegion(rng *rand.Rand) (efi.MemoryType, bool) {
	var total int
	for _, w := range regionWeights {
		total += w.weight
	}

	n := rng.Intn(total)
	for _, w := range regionWeights {
		if n < w.weight {
			return w.memType, w.hole
		}
		n -= w.weight
	}

	return efi.ConventionalMemory, false
}

// generateMemoryMap carves the arena into randomly typed regions, adds a
// device window past its end and returns the descriptors in shuffled order,
// laid out with the requested stride just like firmware would.
func generateMemoryMap(arena []byte, stride uintptr, rng *rand.Rand) (*efi.MemoryMap, error) {
	if stride < unsafe.Sizeof(efi.MemoryDescriptor{}) || stride%8 != 0 {
		return nil, errors.Errorf("invalid descriptor stride %d", stride)
	}

	base := uintptr(unsafe.Pointer(&arena[0]))
	if base&(mm.PageSize-1) != 0 {
		return nil, errors.Errorf("arena at %#x is not page-aligned", base)
	}

	totalPages := uintptr(len(arena)) >> mm.PageShift
	if totalPages < 2*minLeadingPages {
		return nil, errors.Errorf("arena of %d pages is too small", totalPages)
	}

	descs := []efi.MemoryDescriptor{{
		Type:          efi.ConventionalMemory,
		PhysicalStart: uint64(base),
		NumberOfPages: minLeadingPages,
	}}

	maxRegionPages := max(totalPages/16, 1)
	for page := uintptr(minLeadingPages); page < totalPages; {
		count := min(uintptr(rng.Int63n(int64(maxRegionPages)))+1, totalPages-page)
		if memType, hole := pickRegion(rng); !hole {
			descs = append(descs, efi.MemoryDescriptor{
				Type:          memType,
				PhysicalStart: uint64(base + page<<mm.PageShift),
				NumberOfPages: uint64(count),
			})
		}
		page += count
	}

	descs = append(descs, efi.MemoryDescriptor{
		Type:          efi.MemoryMappedIO,
		PhysicalStart: uint64(base + (totalPages+mmioPages)<<mm.PageShift),
		NumberOfPages: mmioPages,
	})

	rng.Shuffle(len(descs), func(i, j int) { descs[i], descs[j] = descs[j], descs[i] })

	mapSize := uintptr(len(descs)) * stride
	words := make([]uint64, mapSize/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), mapSize)
	for i, desc := range descs {
		*(*efi.MemoryDescriptor)(unsafe.Pointer(&buf[uintptr(i)*stride])) = desc
	}

	memMap, kerr := efi.NewMemoryMap(buf, mapSize, stride)
	if kerr != nil {
		return nil, errors.Wrap(kerr, "unable to build the memory map")
	}

	return &memMap, nil
}
