package pmm

import (
	"testing"

	"gopherefi/kernel/mm"
)

func newTestAllocator(blocks ...Block) *PageAllocator {
	var total uintptr
	for i := range blocks {
		blocks[i].BitmapStart = total
		total += blocks[i].PageCount
	}

	return &PageAllocator{
		blocks: blocks,
		bitmap: make([]uint8, (total+7)/8),
	}
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 64})

	addr, ok := alloc.Allocate(mm.PageSize, 3*mm.PageSize)
	if !ok || addr != 0x100000 {
		t.Fatalf("expected allocation at 0x100000; got (0x%x, %t)", addr, ok)
	}

	for page, exp := range []bool{true, true, true, false} {
		got, inRange := alloc.GetAllocated(addr + uintptr(page)*mm.PageSize)
		if !inRange || got != exp {
			t.Errorf("expected page %d allocated state to be %t; got %t", page, exp, got)
		}
	}

	alloc.Free(addr, 3*mm.PageSize)
	if got := alloc.AllocatedPages(); got != 0 {
		t.Fatalf("expected all pages to be free after Free; got %d allocated", got)
	}

	if again, _ := alloc.Allocate(mm.PageSize, 3*mm.PageSize); again != addr {
		t.Fatalf("expected freed pages to be reused at 0x%x; got 0x%x", addr, again)
	}
}

func TestAllocateAlignment(t *testing.T) {
	specs := []struct {
		alignment, size uintptr
		expAddr         uintptr
	}{
		{0, mm.PageSize, 0x101000},
		{1, 1, 0x101000},
		{mm.PageSize, mm.PageSize, 0x101000},
		{0x4000, mm.PageSize, 0x104000},
		{0x10000, 2 * mm.PageSize, 0x110000},
		{0x100000, mm.PageSize, 0x200000},
	}

	for specIndex, spec := range specs {
		alloc := newTestAllocator(Block{StartAddress: 0x101000, PageCount: 512})

		addr, ok := alloc.Allocate(spec.alignment, spec.size)
		if !ok || addr != spec.expAddr {
			t.Errorf("[spec %d] expected allocation at 0x%x; got (0x%x, %t)", specIndex, spec.expAddr, addr, ok)
		}
	}
}

func TestAllocateSkipsAllocatedPages(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 8})
	alloc.SetAllocated(0x102000, true)

	addr, ok := alloc.Allocate(mm.PageSize, 3*mm.PageSize)
	if !ok || addr != 0x103000 {
		t.Fatalf("expected allocation at 0x103000; got (0x%x, %t)", addr, ok)
	}

	// only pages 0 and 1 remain free below the reserved page
	if _, ok = alloc.Allocate(mm.PageSize, 3*mm.PageSize); ok {
		t.Fatal("expected allocation to fail")
	}

	if addr, ok = alloc.Allocate(mm.PageSize, 2*mm.PageSize); !ok || addr != 0x100000 {
		t.Fatalf("expected allocation at 0x100000; got (0x%x, %t)", addr, ok)
	}
}

func TestAllocateNoOverlap(t *testing.T) {
	alloc := newTestAllocator(
		Block{StartAddress: 0x100000, PageCount: 37},
		Block{StartAddress: 0x400000, PageCount: 91},
	)

	owner := make(map[uintptr]int)
	for req := 0; ; req++ {
		size := uintptr(req%5+1) * mm.PageSize
		addr, ok := alloc.Allocate(mm.PageSize, size)
		if !ok {
			break
		}

		for page := uintptr(0); page < size/mm.PageSize; page++ {
			pageAddr := addr + page*mm.PageSize
			if prev, taken := owner[pageAddr]; taken {
				t.Fatalf("request %d overlaps request %d at 0x%x", req, prev, pageAddr)
			}
			owner[pageAddr] = req
		}

		if req%3 == 0 {
			alloc.Free(addr, size)
			for page := uintptr(0); page < size/mm.PageSize; page++ {
				delete(owner, addr+page*mm.PageSize)
			}
		}
	}

	if got, exp := alloc.AllocatedPages(), uintptr(len(owner)); got != exp {
		t.Fatalf("expected %d allocated pages; got %d", exp, got)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 64})

	var successes int
	for {
		if _, ok := alloc.Allocate(mm.PageSize, 4*mm.PageSize); !ok {
			break
		}
		successes++
	}

	if successes != 16 {
		t.Fatalf("expected 16 successful allocations; got %d", successes)
	}

	if got := alloc.FreePages(); got != 0 {
		t.Fatalf("expected no free pages; got %d", got)
	}
}

func TestAllocateFirstFitReuse(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 16})

	a, _ := alloc.Allocate(mm.PageSize, 2*mm.PageSize)
	alloc.Allocate(mm.PageSize, 2*mm.PageSize)
	c, _ := alloc.Allocate(mm.PageSize, 2*mm.PageSize)

	alloc.Free(a, 2*mm.PageSize)

	if got, _ := alloc.Allocate(mm.PageSize, mm.PageSize); got != a {
		t.Fatalf("expected first fit at 0x%x; got 0x%x", a, got)
	}

	// the single free page left at a+PageSize is too small
	if got, _ := alloc.Allocate(mm.PageSize, 2*mm.PageSize); got != c+2*mm.PageSize {
		t.Fatalf("expected allocation after 0x%x; got 0x%x", c, got)
	}
}

func TestAllocateTwoPagesAfterFreeingFirstPage(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 8})

	first, _ := alloc.Allocate(mm.PageSize, mm.PageSize)
	second, _ := alloc.Allocate(mm.PageSize, mm.PageSize)
	alloc.Free(first, mm.PageSize)

	addr, ok := alloc.Allocate(mm.PageSize, 2*mm.PageSize)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}

	if addr <= second && second < addr+2*mm.PageSize {
		t.Fatalf("allocation at 0x%x overlaps the live page at 0x%x", addr, second)
	}

	if exp := second + mm.PageSize; addr != exp {
		t.Fatalf("expected allocation at 0x%x; got 0x%x", exp, addr)
	}
}

func TestAllocateZeroSize(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 4})

	specs := []struct {
		alignment, expAddr uintptr
	}{
		{0, 1},
		{1, 1},
		{0x2000, 0x2000},
	}

	for specIndex, spec := range specs {
		addr, ok := alloc.Allocate(spec.alignment, 0)
		if !ok || addr != spec.expAddr {
			t.Errorf("[spec %d] expected (0x%x, true); got (0x%x, %t)", specIndex, spec.expAddr, addr, ok)
		}
	}

	if got := alloc.AllocatedPages(); got != 0 {
		t.Fatalf("expected zero-size allocations to reserve nothing; got %d allocated", got)
	}
}

func TestFreeIgnoresInvalidRanges(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 4})
	addr, _ := alloc.Allocate(mm.PageSize, mm.PageSize)

	alloc.Free(0xdead0000, 4*mm.PageSize)
	alloc.Free(addr, 0)

	if got := alloc.AllocatedPages(); got != 1 {
		t.Fatalf("expected 1 allocated page; got %d", got)
	}

	// a range running past the end of a block clears only the pages inside it
	alloc.Free(0x103000, 8*mm.PageSize)
	if got := alloc.AllocatedPages(); got != 1 {
		t.Fatalf("expected 1 allocated page; got %d", got)
	}
}

func TestAllocateNeverSpansBlocks(t *testing.T) {
	alloc := newTestAllocator(
		Block{StartAddress: 0x100000, PageCount: 2},
		Block{StartAddress: 0x200000, PageCount: 4},
	)

	addr, ok := alloc.Allocate(mm.PageSize, 3*mm.PageSize)
	if !ok || addr != 0x200000 {
		t.Fatalf("expected allocation at 0x200000; got (0x%x, %t)", addr, ok)
	}

	if _, ok = alloc.Allocate(mm.PageSize, 3*mm.PageSize); ok {
		t.Fatal("expected allocation to fail; only 2+1 free pages remain in separate blocks")
	}
}

func TestPageCountConservation(t *testing.T) {
	alloc := newTestAllocator(
		Block{StartAddress: 0x100000, PageCount: 5},
		Block{StartAddress: 0x200000, PageCount: 8},
	)

	check := func(stage string) {
		t.Helper()
		if total, sum := alloc.TotalPages(), alloc.AllocatedPages()+alloc.FreePages(); total != 13 || sum != total {
			t.Fatalf("%s: expected 13 total pages == allocated + free; got total %d, sum %d", stage, total, sum)
		}
	}

	check("initial")
	for i := 0; i < 13; i++ {
		if _, ok := alloc.Allocate(mm.PageSize, mm.PageSize); !ok {
			t.Fatalf("allocation %d failed", i)
		}
	}
	check("exhausted")

	if got := alloc.AllocatedPages(); got != 13 {
		t.Fatalf("expected 13 allocated pages; got %d", got)
	}

	alloc.Free(0x200000, 8*mm.PageSize)
	check("after free")
	if got := alloc.FreePages(); got != 8 {
		t.Fatalf("expected 8 free pages; got %d", got)
	}
}

func TestGetSetAllocatedOutsideBlocks(t *testing.T) {
	alloc := newTestAllocator(Block{StartAddress: 0x100000, PageCount: 4})

	for _, addr := range []uintptr{0, 0xfffff, 0x104000} {
		if _, ok := alloc.GetAllocated(addr); ok {
			t.Errorf("expected GetAllocated(0x%x) to report an out of range address", addr)
		}
		if alloc.SetAllocated(addr, true) {
			t.Errorf("expected SetAllocated(0x%x) to report an out of range address", addr)
		}
	}

	if !alloc.SetAllocated(0x103fff, true) {
		t.Fatal("expected SetAllocated to succeed for an address inside the last page")
	}
	if got, _ := alloc.GetAllocated(0x103000); !got {
		t.Fatal("expected page 0x103000 to be allocated")
	}
}
