// Package efi describes the firmware-provided view of physical memory and
// implements the protocol used to fetch it and leave boot services.
package efi

import (
	"unsafe"

	"gopherefi/kernel"
	"gopherefi/kernel/mm"
)

var (
	errDescriptorSize = &kernel.Error{Module: "efi", Message: "memory descriptor size smaller than the descriptor layout"}
	errMapSize        = &kernel.Error{Module: "efi", Message: "memory map size is not a multiple of the descriptor size"}
)

// MemoryType describes the firmware classification of a memory region.
type MemoryType uint32

// The memory types defined by the UEFI specification.
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
)

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	switch t {
	case ReservedMemoryType:
		return "reserved"
	case LoaderCode:
		return "loader code"
	case LoaderData:
		return "loader data"
	case BootServicesCode:
		return "boot services code"
	case BootServicesData:
		return "boot services data"
	case RuntimeServicesCode:
		return "runtime services code"
	case RuntimeServicesData:
		return "runtime services data"
	case ConventionalMemory:
		return "conventional"
	case UnusableMemory:
		return "unusable"
	case ACPIReclaimMemory:
		return "ACPI (reclaimable)"
	case ACPIMemoryNVS:
		return "ACPI NVS"
	case MemoryMappedIO:
		return "MMIO"
	case MemoryMappedIOPortSpace:
		return "MMIO port space"
	case PalCode:
		return "PAL code"
	case PersistentMemory:
		return "persistent"
	default:
		return "unknown"
	}
}

// Allocatable returns true if regions of this type may be handed out by the
// page allocator. Conventional memory is always allocatable. Boot services
// code and data become allocatable once boot services have been exited;
// every other type is permanently reserved.
func (t MemoryType) Allocatable(bootServicesExited bool) bool {
	switch t {
	case ConventionalMemory:
		return true
	case BootServicesCode, BootServicesData:
		return bootServicesExited
	default:
		return false
	}
}

// MemoryDescriptor mirrors the EFI_MEMORY_DESCRIPTOR layout.
type MemoryDescriptor struct {
	Type          MemoryType
	_             uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// End returns the first physical address past this region.
func (d *MemoryDescriptor) End() uint64 {
	return d.PhysicalStart + d.NumberOfPages<<mm.PageShift
}

// MemoryMap is a view over a firmware memory map buffer. Firmware reports
// the distance between consecutive descriptors separately and it may exceed
// the size of MemoryDescriptor, so records are always addressed through
// that stride.
type MemoryMap struct {
	buf      []byte
	descSize uintptr
	count    int
}

// NewMemoryMap returns a MemoryMap over the first mapSize bytes of buf.
func NewMemoryMap(buf []byte, mapSize, descSize uintptr) (MemoryMap, *kernel.Error) {
	if descSize < unsafe.Sizeof(MemoryDescriptor{}) {
		return MemoryMap{}, errDescriptorSize
	}

	if mapSize%descSize != 0 || mapSize > uintptr(len(buf)) {
		return MemoryMap{}, errMapSize
	}

	return MemoryMap{
		buf:      buf[:mapSize],
		descSize: descSize,
		count:    int(mapSize / descSize),
	}, nil
}

// Len returns the number of descriptors in the map.
func (m *MemoryMap) Len() int { return m.count }

// DescriptorSize returns the stride between consecutive descriptors.
func (m *MemoryMap) DescriptorSize() uintptr { return m.descSize }

// Descriptor returns a pointer to the i-th descriptor. The returned pointer
// aliases the underlying buffer.
func (m *MemoryMap) Descriptor(i int) *MemoryDescriptor {
	return (*MemoryDescriptor)(unsafe.Pointer(&m.buf[uintptr(i)*m.descSize]))
}

// Swap exchanges the full descSize-byte records at indices i and j,
// including any trailing bytes the firmware appended to each descriptor.
func (m *MemoryMap) Swap(i, j int) {
	a := m.buf[uintptr(i)*m.descSize : uintptr(i+1)*m.descSize]
	b := m.buf[uintptr(j)*m.descSize : uintptr(j+1)*m.descSize]
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}
