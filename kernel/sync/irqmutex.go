package sync

import "gopherefi/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// IRQMutex protects a value that is shared between regular kernel code and
// interrupt handlers running on the same core. Each critical section runs
// with interrupts masked so a handler can never preempt a lock holder and
// spin forever on a lock that will not be released.
//
// The zero value is an unlocked mutex guarding the zero value of T.
//
// Nesting With calls on the same IRQMutex deadlocks. Critical sections should
// be kept short as every interrupt (timer, keyboard, mouse) is held back while
// the lock is held.
type IRQMutex[T any] struct {
	lock  Spinlock
	value T
}

// NewIRQMutex returns an IRQMutex guarding value.
func NewIRQMutex[T any](value T) *IRQMutex[T] {
	return &IRQMutex[T]{value: value}
}

// With masks interrupts (if they are enabled), acquires the lock and invokes
// fn with exclusive access to the guarded value. Once fn returns, the lock is
// released and interrupts are re-enabled only if they were enabled on entry.
//
// A panic inside fn leaves the lock held; the kernel panic path halts the CPU
// so the lock is never observed again.
func (m *IRQMutex[T]) With(fn func(*T)) {
	wasEnabled := interruptsEnabledFn()
	if wasEnabled {
		disableInterruptsFn()
	}

	m.lock.Acquire()
	fn(&m.value)
	m.lock.Release()

	if wasEnabled {
		enableInterruptsFn()
	}
}
