// Package event buffers input events raised by interrupt handlers until the
// kernel main loop gets around to processing them.
package event

import (
	"unsafe"

	"gopherefi/kernel"
	"gopherefi/kernel/heap"
	"gopherefi/kernel/sync"
)

// Source identifies the device that raised an event.
type Source uint8

// The supported event sources.
const (
	Keyboard Source = iota + 1
	Mouse
)

func (s Source) String() string {
	switch s {
	case Keyboard:
		return "keyboard"
	case Mouse:
		return "mouse"
	default:
		return "unknown"
	}
}

// Action describes what happened to a key or button.
type Action uint8

// The supported actions.
const (
	Pressed Action = iota + 1
	Released
)

func (a Action) String() string {
	switch a {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Event is a single input event. Code holds the device-specific key or
// button code.
type Event struct {
	Source Source
	Action Action
	Code   uint16
}

const (
	eventSize   = unsafe.Sizeof(Event{})
	eventAlign  = unsafe.Alignof(Event{})
	minCapacity = 16
)

var (
	// Pending holds the events raised by interrupt handlers. It must only
	// be accessed through With or via Post and Drain.
	Pending sync.IRQMutex[Queue]

	// reallocFn is mocked by tests.
	reallocFn = heap.Realloc
	freeFn    = heap.Free
)

// Queue is a FIFO of events stored in a ring buffer. The buffer lives in
// memory obtained from the heap package and doubles in size whenever a push
// finds it full. The zero value is an empty queue with no storage.
type Queue struct {
	buf      unsafe.Pointer
	capacity int
	head     int
	length   int

	// Dropped counts the events that were discarded because the buffer
	// could not grow.
	Dropped uint64
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return q.length }

// Cap returns the number of events the queue can hold before growing.
func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) slot(i int) *Event {
	return (*Event)(unsafe.Add(q.buf, uintptr((q.head+i)%q.capacity)*eventSize))
}

// Push appends ev to the queue. If the queue is full and its storage cannot
// be grown, ev is discarded, Dropped is incremented and Push returns false.
func (q *Queue) Push(ev Event) bool {
	if q.length == q.capacity && !q.grow() {
		q.Dropped++
		return false
	}

	*q.slot(q.length) = ev
	q.length++
	return true
}

// Pop removes and returns the oldest event. It returns false if the queue
// is empty.
func (q *Queue) Pop() (Event, bool) {
	if q.length == 0 {
		return Event{}, false
	}

	ev := *q.slot(0)
	q.head = (q.head + 1) % q.capacity
	q.length--
	return ev, true
}

// Reset discards all queued events and releases the queue storage.
func (q *Queue) Reset() {
	if q.buf != nil {
		freeFn(q.buf, eventAlign, uintptr(q.capacity)*eventSize)
	}

	dropped := q.Dropped
	*q = Queue{Dropped: dropped}
}

// grow doubles the queue storage. Events that wrapped around the end of the
// old buffer are moved right after it so the ring stays contiguous.
func (q *Queue) grow() bool {
	newCapacity := max(minCapacity, 2*q.capacity)
	newBuf := reallocFn(q.buf, eventAlign, uintptr(q.capacity)*eventSize, uintptr(newCapacity)*eventSize)
	if newBuf == nil {
		return false
	}

	if wrapped := q.head + q.length - q.capacity; q.length > 0 && wrapped > 0 {
		kernel.Memcopy(
			uintptr(newBuf),
			uintptr(unsafe.Add(newBuf, uintptr(q.capacity)*eventSize)),
			uintptr(wrapped)*eventSize,
		)
	}

	q.buf = newBuf
	q.capacity = newCapacity
	return true
}

// Post appends ev to the kernel-wide pending queue. It is safe to call from
// interrupt handlers.
func Post(ev Event) bool {
	var ok bool
	Pending.With(func(q *Queue) {
		ok = q.Push(ev)
	})
	return ok
}

// Drain pops events from the kernel-wide pending queue until it is empty and
// passes each of them to handler. The lock is not held while handler runs
// so handlers may post new events.
func Drain(handler func(Event)) int {
	var count int
	for {
		var (
			ev Event
			ok bool
		)
		Pending.With(func(q *Queue) {
			ev, ok = q.Pop()
		})

		if !ok {
			return count
		}

		handler(ev)
		count++
	}
}
