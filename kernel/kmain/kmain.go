package kmain

import (
	"io"

	"gopherefi/kernel"
	"gopherefi/kernel/cpu"
	"gopherefi/kernel/efi"
	"gopherefi/kernel/event"
	"gopherefi/kernel/heap"
	"gopherefi/kernel/kfmt"
	"gopherefi/kernel/mm"
	"gopherefi/kernel/mm/pmm"
)

const (
	kernelStackSize  = uintptr(4 * mm.Mb)
	kernelStackAlign = 16
)

var (
	errStackAlloc    = &kernel.Error{Module: "kmain", Message: "unable to allocate the kernel stack"}
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// The following functions are mocked by tests.
	acquireMemoryMapFn  = efi.AcquireMemoryMap
	disableInterruptsFn = cpu.DisableInterrupts
	pmmInitFn           = pmm.Init
	allocStackFn        = heap.Alloc
	waitForInterruptFn  = cpu.WaitForInterrupt
	panicFn             = kfmt.Panic

	// kernelMainFn receives the top of the kernel stack and is not
	// expected to return.
	kernelMainFn = idle
)

// Kmain is invoked by the firmware entry trampoline with the image handle,
// the boot services table and the console that diagnostics are written to.
//
// Kmain fetches the final memory map, exits boot services, bootstraps the
// page allocator on top of the map and reserves the kernel stack before
// handing control to the kernel main loop.
//
// Kmain is not expected to return. If it does, the kernel panics.
//
//go:noinline
func Kmain(imageHandle uintptr, bs efi.BootServices, console io.Writer) {
	kfmt.SetOutputSink(console)
	kfmt.Printf("[kmain] booting image 0x%x\n", imageHandle)

	memMap, err := acquireMemoryMapFn(bs)
	if err != nil {
		panicFn(err)
		return
	}

	// Firmware interrupt handlers are gone along with boot services.
	disableInterruptsFn()

	if err = pmmInitFn(&memMap, true); err != nil {
		panicFn(err)
		return
	}
	pmm.PrintMemoryMap(&memMap)
	pmm.PrintStats()

	stack := allocStackFn(kernelStackAlign, kernelStackSize)
	if stack == nil {
		panicFn(errStackAlloc)
		return
	}

	stackTop := uintptr(stack) + kernelStackSize
	kfmt.Printf("[kmain] kernel stack: [0x%x - 0x%x]\n", uintptr(stack), stackTop)

	kernelMainFn(stackTop)
	panicFn(errKmainReturned)
}

// idle is the kernel main loop. It processes pending input events and
// sleeps until the next interrupt.
func idle(_ uintptr) {
	for {
		idleOnce()
	}
}

func idleOnce() {
	event.Drain(printEvent)
	waitForInterruptFn()
}

func printEvent(ev event.Event) {
	kfmt.Printf("[kmain] %s 0x%x %s\n", ev.Source.String(), ev.Code, ev.Action.String())
}
