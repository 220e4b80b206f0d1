package main

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"gopherefi/kernel/mm"
)

// writeReport prints the allocator counters and the workload statistics.
// Numbers are grouped according to the conventions of tag.
func writeReport(w io.Writer, tag language.Tag, s *simulator) {
	p := message.NewPrinter(tag)
	snap := s.snapshot()

	p.Fprintf(w, "memory map:  %d regions in %d blocks\n", s.memMap.Len(), snap.blocks)
	p.Fprintf(w, "pages:       %d total, %d reserved at boot, %d allocated, %d free\n",
		snap.totalPages, s.reservedPages, snap.allocatedPages, snap.freePages,
	)
	p.Fprintf(w, "free memory: %d bytes\n", snap.freePages<<mm.PageShift)
	p.Fprintf(w, "operations:  %d allocations, %d frees, %d failed\n",
		s.stats.allocs, s.stats.frees, s.stats.failures,
	)
	p.Fprintf(w, "live:        %d allocations, %d pages (peak %d pages)\n",
		len(s.live), s.stats.livePages, s.stats.peakPages,
	)
}
