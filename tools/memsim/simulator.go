package main

import (
	"math/rand"
	"unsafe"

	"github.com/pkg/errors"

	"gopherefi/kernel/efi"
	"gopherefi/kernel/mm"
	"gopherefi/kernel/mm/pmm"
	"gopherefi/kernel/sync"
)

const (
	// maxRequestPages bounds the size of a random allocation request.
	maxRequestPages = 8

	// allocPercent is the probability of an allocation when the workload
	// holds live allocations.
	allocPercent = 60
)

var alignments = []uintptr{1, 8, mm.PageSize, 4 * mm.PageSize, 16 * mm.PageSize}

type allocation struct {
	addr, size uintptr
	pattern    byte
}

type stats struct {
	allocs, frees, failures uintptr
	livePages, peakPages    uintptr
}

// simulator runs allocation workloads against a page allocator that manages
// the arena and checks the allocator invariants after every operation.
type simulator struct {
	arena  []byte
	base   uintptr
	memMap *efi.MemoryMap
	rng    *rand.Rand

	allocator *sync.IRQMutex[pmm.PageAllocator]

	// reservedPages is the number of pages that were unavailable right
	// after bootstrapping the allocator.
	reservedPages uintptr

	live  []allocation
	stats stats
}

func newSimulator(arena []byte, memMap *efi.MemoryMap, rng *rand.Rand) (*simulator, error) {
	alloc, kerr := pmm.Build(memMap, true)
	if kerr != nil {
		return nil, errors.Wrap(kerr, "unable to bootstrap the page allocator")
	}

	return &simulator{
		arena:         arena,
		base:          uintptr(unsafe.Pointer(&arena[0])),
		memMap:        memMap,
		rng:           rng,
		allocator:     sync.NewIRQMutex(alloc),
		reservedPages: alloc.AllocatedPages(),
	}, nil
}

// run executes ops random operations.
func (s *simulator) run(ops int) error {
	for op := 0; op < ops; op++ {
		if err := s.step(); err != nil {
			return errors.Wrapf(err, "operation %d", op)
		}
	}

	return nil
}

func (s *simulator) step() error {
	if len(s.live) == 0 || s.rng.Intn(100) < allocPercent {
		size := uintptr(s.rng.Int63n(maxRequestPages*int64(mm.PageSize))) + 1
		return s.allocate(alignments[s.rng.Intn(len(alignments))], size)
	}

	return s.free(s.rng.Intn(len(s.live)))
}

// allocate requests size bytes and verifies that the returned pages are
// aligned, allocatable and not already in use.
func (s *simulator) allocate(alignment, size uintptr) error {
	var (
		addr uintptr
		ok   bool
	)
	s.allocator.With(func(alloc *pmm.PageAllocator) {
		addr, ok = alloc.Allocate(alignment, size)
	})

	if !ok {
		s.stats.failures++
		return s.checkCounters()
	}

	pages := mm.PagesFor(size)
	if addr%alignment != 0 {
		return errors.Errorf("allocation at %#x is not aligned to %#x", addr, alignment)
	}

	if !s.allocatable(addr, pages) {
		return errors.Errorf("allocation [%#x, %#x) overlaps memory that is not allocatable", addr, addr+pages<<mm.PageShift)
	}

	for _, other := range s.live {
		if addr < other.addr+mm.PagesFor(other.size)<<mm.PageShift && other.addr < addr+pages<<mm.PageShift {
			return errors.Errorf("allocation at %#x overlaps live allocation at %#x", addr, other.addr)
		}
	}

	a := allocation{addr: addr, size: size, pattern: byte(s.rng.Intn(255) + 1)}
	s.fill(a)
	s.live = append(s.live, a)

	s.stats.allocs++
	s.stats.livePages += pages
	s.stats.peakPages = max(s.stats.peakPages, s.stats.livePages)

	return s.checkCounters()
}

// free releases the i-th live allocation after checking that nobody else
// has written to it.
func (s *simulator) free(i int) error {
	a := s.live[i]
	if err := s.verify(a); err != nil {
		return err
	}

	s.allocator.With(func(alloc *pmm.PageAllocator) {
		alloc.Free(a.addr, a.size)
	})

	s.live[i] = s.live[len(s.live)-1]
	s.live = s.live[:len(s.live)-1]

	s.stats.frees++
	s.stats.livePages -= mm.PagesFor(a.size)

	return s.checkCounters()
}

// drain releases every live allocation and checks that the allocator is
// back to its bootstrap state.
func (s *simulator) drain() error {
	for len(s.live) > 0 {
		if err := s.free(len(s.live) - 1); err != nil {
			return err
		}
	}

	if got := s.snapshot().allocatedPages; got != s.reservedPages {
		return errors.Errorf("expected %d allocated pages after releasing everything; got %d", s.reservedPages, got)
	}

	return nil
}

// allocatable returns true if every page of the range is covered by a
// region that the allocator may hand out.
func (s *simulator) allocatable(addr, pages uintptr) bool {
	for page := uintptr(0); page < pages; page++ {
		pageAddr := uint64(addr + page<<mm.PageShift)

		var found bool
		for i := 0; i < s.memMap.Len() && !found; i++ {
			desc := s.memMap.Descriptor(i)
			found = pageAddr >= desc.PhysicalStart && pageAddr < desc.End() && desc.Type.Allocatable(true)
		}

		if !found {
			return false
		}
	}

	return true
}

// pageHeader returns the first bytes of a page inside the arena.
func (s *simulator) pageHeader(addr uintptr) []byte {
	offset := addr - s.base
	return s.arena[offset : offset+8]
}

func (s *simulator) fill(a allocation) {
	for page := uintptr(0); page < mm.PagesFor(a.size); page++ {
		header := s.pageHeader(a.addr + page<<mm.PageShift)
		for i := range header {
			header[i] = a.pattern
		}
	}
}

func (s *simulator) verify(a allocation) error {
	for page := uintptr(0); page < mm.PagesFor(a.size); page++ {
		pageAddr := a.addr + page<<mm.PageShift
		for _, b := range s.pageHeader(pageAddr) {
			if b != a.pattern {
				return errors.Errorf("page %#x of allocation at %#x was overwritten", pageAddr, a.addr)
			}
		}
	}

	return nil
}

type snapshot struct {
	blocks                                int
	totalPages, allocatedPages, freePages uintptr
}

func (s *simulator) snapshot() snapshot {
	var snap snapshot
	s.allocator.With(func(alloc *pmm.PageAllocator) {
		snap = snapshot{
			blocks:         len(alloc.Blocks()),
			totalPages:     alloc.TotalPages(),
			allocatedPages: alloc.AllocatedPages(),
			freePages:      alloc.FreePages(),
		}
	})
	return snap
}

// checkCounters verifies page conservation and that the allocator agrees
// with the workload about the number of pages in use.
func (s *simulator) checkCounters() error {
	snap := s.snapshot()

	if snap.allocatedPages+snap.freePages != snap.totalPages {
		return errors.Errorf("allocated (%d) + free (%d) pages do not add up to %d", snap.allocatedPages, snap.freePages, snap.totalPages)
	}

	if exp := s.reservedPages + s.stats.livePages; snap.allocatedPages != exp {
		return errors.Errorf("expected %d allocated pages; allocator reports %d", exp, snap.allocatedPages)
	}

	return nil
}
