//go:build !baremetal || !amd64

package cpu

import (
	"sync/atomic"

	"gopherefi/kernel"
)

var (
	// interruptFlag emulates RFLAGS.IF. Hosted processes start with
	// interrupts enabled, just like the kernel does once its handlers are
	// installed.
	interruptFlag atomic.Bool

	errHalted = &kernel.Error{Module: "cpu", Message: "cpu halted"}
)

func init() {
	interruptFlag.Store(true)
}

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() { interruptFlag.Store(true) }

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() { interruptFlag.Store(false) }

// InterruptsEnabled returns true if interrupt handling is enabled.
func InterruptsEnabled() bool { return interruptFlag.Load() }

// Halt disables interrupts and stops execution. There is no way to resume a
// halted hosted process so Halt panics with a *kernel.Error.
func Halt() {
	interruptFlag.Store(false)
	panic(errHalted)
}

// WaitForInterrupt enables interrupts. No interrupt source exists in hosted
// mode so it returns immediately.
func WaitForInterrupt() { interruptFlag.Store(true) }
