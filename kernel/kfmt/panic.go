package kfmt

import (
	"gopherefi/kernel"
	"gopherefi/kernel/cpu"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	disableInterruptsFn = cpu.DisableInterrupts
	cpuHaltFn           = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic masks interrupts, reports the supplied value (if not nil) to the
// console and halts the CPU. Calls to Panic never return.
//
// No interrupt handler runs once Panic has been entered and locks held by
// the caller are never released.
func Panic(e interface{}) {
	disableInterruptsFn()

	err := asKernelError(e)

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// asKernelError converts the argument of Panic into a *kernel.Error. Strings
// and errors are reported through the shared errRuntimePanic value.
func asKernelError(e interface{}) *kernel.Error {
	switch t := e.(type) {
	case *kernel.Error:
		return t
	case string:
		errRuntimePanic.Message = t
	case error:
		errRuntimePanic.Message = t.Error()
	default:
		return nil
	}

	return errRuntimePanic
}
