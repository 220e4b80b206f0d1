//go:build baremetal

package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag in RFLAGS is set.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt enables interrupts and halts until the next interrupt
// arrives. The sti;hlt pair executes atomically with respect to interrupt
// delivery so a wakeup cannot be lost between the two instructions.
func WaitForInterrupt()
