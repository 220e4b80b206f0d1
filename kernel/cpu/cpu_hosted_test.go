//go:build !baremetal || !amd64

package cpu

import "testing"

func TestInterruptFlag(t *testing.T) {
	defer EnableInterrupts()

	DisableInterrupts()
	if InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled after DisableInterrupts")
	}

	EnableInterrupts()
	if !InterruptsEnabled() {
		t.Fatal("expected interrupts to be enabled after EnableInterrupts")
	}

	DisableInterrupts()
	WaitForInterrupt()
	if !InterruptsEnabled() {
		t.Fatal("expected WaitForInterrupt to leave interrupts enabled")
	}
}

func TestHalt(t *testing.T) {
	defer EnableInterrupts()
	defer func() {
		if err := recover(); err != errHalted {
			t.Fatalf("expected Halt to panic with %v; got %v", errHalted, err)
		}

		if InterruptsEnabled() {
			t.Fatal("expected Halt to disable interrupts")
		}
	}()

	Halt()
}
