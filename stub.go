package main

import (
	"io"

	"gopherefi/kernel/efi"
	"gopherefi/kernel/kmain"
)

var (
	imageHandle  uintptr
	bootServices efi.BootServices
	console      io.Writer
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// The firmware entry code fills in the global variables before jumping here.
// Passing globals prevents the compiler from inlining the actual call and
// removing Kmain from the generated object file.
func main() {
	kmain.Kmain(imageHandle, bootServices, console)
}
