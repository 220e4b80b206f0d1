// Package cpu exposes the handful of privileged instructions that the memory
// core needs: interrupt flag control and halting.
//
// Kernel images are built with the baremetal tag which links the amd64
// assembly implementation. Every other build (unit tests, host-side tools)
// gets a software-emulated interrupt flag so that code paths that mask
// interrupts can run in user space.
package cpu
