//go:build !linux && !darwin

package main

import "github.com/pkg/errors"

func mapArena(size uintptr) ([]byte, error) {
	return nil, errors.New("simulated physical memory requires mmap support")
}

func unmapArena([]byte) error {
	return nil
}
