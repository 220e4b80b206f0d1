package sync

import (
	"runtime"
	"sync"
	"testing"

	"gopherefi/kernel/cpu"
)

func mockInterrupts(enabled bool) (calls *[]string, restore func()) {
	var log []string
	interruptsEnabledFn = func() bool { return enabled }
	disableInterruptsFn = func() { log = append(log, "cli"); enabled = false }
	enableInterruptsFn = func() { log = append(log, "sti"); enabled = true }

	return &log, func() {
		interruptsEnabledFn = cpu.InterruptsEnabled
		disableInterruptsFn = cpu.DisableInterrupts
		enableInterruptsFn = cpu.EnableInterrupts
	}
}

func TestIRQMutexInterruptMasking(t *testing.T) {
	specs := []struct {
		enabledOnEntry bool
		expCalls       []string
	}{
		{true, []string{"cli", "sti"}},
		{false, nil},
	}

	for specIndex, spec := range specs {
		calls, restore := mockInterrupts(spec.enabledOnEntry)

		m := NewIRQMutex(0)
		m.With(func(v *int) {
			if spec.enabledOnEntry && len(*calls) != 1 {
				t.Errorf("[spec %d] expected interrupts to be disabled before invoking fn", specIndex)
			}
			if m.lock.TryToAcquire() {
				t.Errorf("[spec %d] expected lock to be held while fn runs", specIndex)
			}
			*v = 42
		})
		restore()

		if len(*calls) != len(spec.expCalls) {
			t.Errorf("[spec %d] expected interrupt calls %v; got %v", specIndex, spec.expCalls, *calls)
			continue
		}
		for i := range spec.expCalls {
			if (*calls)[i] != spec.expCalls[i] {
				t.Errorf("[spec %d] expected interrupt calls %v; got %v", specIndex, spec.expCalls, *calls)
				break
			}
		}

		m.With(func(v *int) {
			if *v != 42 {
				t.Errorf("[spec %d] expected guarded value to be 42; got %d", specIndex, *v)
			}
		})

		if !m.lock.TryToAcquire() {
			t.Errorf("[spec %d] expected lock to be released after With returns", specIndex)
		}
	}
}

func TestIRQMutexExclusion(t *testing.T) {
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	// The interrupt flag is per-core state; goroutines only exercise the
	// spinlock so the flag functions are stubbed out.
	_, restore := mockInterrupts(false)
	defer restore()

	var (
		m          IRQMutex[int]
		wg         sync.WaitGroup
		numWorkers = 8
		numIncs    = 1000
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numIncs; j++ {
				m.With(func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()

	m.With(func(v *int) {
		if exp := numWorkers * numIncs; *v != exp {
			t.Fatalf("expected counter to be %d; got %d", exp, *v)
		}
	})
}
