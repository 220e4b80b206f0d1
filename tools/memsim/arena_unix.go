//go:build linux || darwin

package main

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mapArena maps size bytes of anonymous memory that stand in for physical
// RAM. The mapping is page-aligned and its addresses are used as physical
// addresses by the simulated firmware.
func mapArena(size uintptr) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to map %d bytes of simulated physical memory", size)
	}

	return buf, nil
}

func unmapArena(buf []byte) error {
	return errors.Wrap(unix.Munmap(buf), "unable to unmap simulated physical memory")
}
