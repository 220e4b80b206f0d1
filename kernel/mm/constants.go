package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes. It matches the
	// UEFI page size which is 4KiB on every architecture, so firmware page
	// counts can be used as-is.
	PageSize = uintptr(1 << PageShift)
)
