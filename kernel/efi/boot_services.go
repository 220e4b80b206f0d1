package efi

import (
	"gopherefi/kernel"
	"gopherefi/kernel/kfmt"
	"gopherefi/kernel/mm"
)

// maxMapAttempts bounds the number of GetMemoryMap/ExitBootServices rounds.
// Every round normally succeeds after at most one resize and one stale key.
const maxMapAttempts = 8

var (
	errGetMemoryMap        = &kernel.Error{Module: "efi", Message: "GetMemoryMap failed"}
	errAllocatePages       = &kernel.Error{Module: "efi", Message: "unable to allocate memory map buffer"}
	errFreePages           = &kernel.Error{Module: "efi", Message: "unable to release memory map buffer"}
	errExitBootServices    = &kernel.Error{Module: "efi", Message: "ExitBootServices failed"}
	errMapGrewAfterExit    = &kernel.Error{Module: "efi", Message: "memory map buffer too small after a failed ExitBootServices call"}
	errMapRetriesExhausted = &kernel.Error{Module: "efi", Message: "memory map kept changing while exiting boot services"}
)

// Status is an EFI_STATUS value.
type Status uint64

const statusErrorBit = Status(1 << 63)

// Status codes used by the memory map protocol.
const (
	StatusSuccess          = Status(0)
	StatusInvalidParameter = statusErrorBit | 2
	StatusBufferTooSmall   = statusErrorBit | 5
	StatusOutOfResources   = statusErrorBit | 9
)

// BootServices is the subset of the firmware boot services table that is
// needed to obtain the final memory map. It is implemented by the firmware
// bindings.
type BootServices interface {
	// GetMemoryMap writes the current memory map into buf. It returns the
	// size of the map in bytes (the required size if the status is
	// StatusBufferTooSmall), the map key, and the descriptor stride.
	GetMemoryMap(buf []byte) (mapSize, mapKey, descSize uintptr, status Status)

	// AllocatePages allocates pages of memory tagged with memType.
	AllocatePages(memType MemoryType, pages uintptr) ([]byte, Status)

	// FreePages releases a buffer obtained by AllocatePages.
	FreePages(buf []byte) Status

	// ExitBootServices terminates boot services. It fails with
	// StatusInvalidParameter if mapKey does not identify the current map.
	ExitBootServices(mapKey uintptr) Status
}

// AcquireMemoryMap fetches the final memory map and exits boot services.
//
// The size probe, the buffer allocation and the fetch may each change the
// map, so a StatusBufferTooSmall answer releases the previous buffer and
// restarts with a larger one. The map key of the successful fetch is handed
// to ExitBootServices with no firmware call in between; a stale key restarts
// the fetch. After a failed ExitBootServices call only GetMemoryMap may be
// used, so the buffer is allocated with room for two extra descriptors.
func AcquireMemoryMap(bs BootServices) (MemoryMap, *kernel.Error) {
	var (
		buf         []byte
		exitAttempt bool
	)

	for attempt := 0; attempt < maxMapAttempts; attempt++ {
		mapSize, mapKey, descSize, status := bs.GetMemoryMap(buf)
		switch status {
		case StatusSuccess:
		case StatusBufferTooSmall:
			if exitAttempt {
				return MemoryMap{}, errMapGrewAfterExit
			}

			if buf != nil {
				if bs.FreePages(buf) != StatusSuccess {
					return MemoryMap{}, errFreePages
				}
			}

			if buf, status = bs.AllocatePages(LoaderData, mm.PagesFor(mapSize+2*descSize)); status != StatusSuccess {
				return MemoryMap{}, errAllocatePages
			}
			continue
		default:
			return MemoryMap{}, errGetMemoryMap
		}

		memMap, err := NewMemoryMap(buf, mapSize, descSize)
		if err != nil {
			return MemoryMap{}, err
		}

		switch bs.ExitBootServices(mapKey) {
		case StatusSuccess:
			return memMap, nil
		case StatusInvalidParameter:
			kfmt.Printf("[efi] stale memory map key; fetching the map again\n")
			exitAttempt = true
		default:
			return MemoryMap{}, errExitBootServices
		}
	}

	return MemoryMap{}, errMapRetriesExhausted
}
