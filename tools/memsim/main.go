package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/text/language"

	"gopherefi/kernel/mm"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memsim] error: %s\n", err.Error())
	os.Exit(1)
}

func runTool() error {
	memSize := flag.Uint("mem", 64, "the size of the simulated physical memory in MiB")
	seed := flag.Int64("seed", 1, "the seed for the generated memory map and the workload")
	ops := flag.Int("ops", 100000, "the number of allocation and free operations to run")
	stride := flag.Uint("stride", 48, "the memory descriptor size reported by the simulated firmware")
	interactive := flag.Bool("interactive", false, "drive the allocator from the keyboard instead of running a random workload")
	lang := flag.String("lang", "en", "the language used for formatting numbers in the report")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "memsim: exercise the physical page allocator against a synthetic firmware memory map\n\n")
		fmt.Fprint(os.Stderr, "Usage: memsim [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *memSize == 0 {
		return errors.New("memory size must be greater than zero")
	}

	tag, err := language.Parse(*lang)
	if err != nil {
		return errors.Wrapf(err, "invalid language %q", *lang)
	}

	arena, err := mapArena(uintptr(*memSize) * uintptr(mm.Mb))
	if err != nil {
		return err
	}
	defer unmapArena(arena)

	rng := rand.New(rand.NewSource(*seed))
	memMap, err := generateMemoryMap(arena, uintptr(*stride), rng)
	if err != nil {
		return err
	}

	sim, err := newSimulator(arena, memMap, rng)
	if err != nil {
		return err
	}

	if *interactive {
		return runInteractive(sim, tag, os.Stdout)
	}

	if err = sim.run(*ops); err != nil {
		return err
	}

	writeReport(os.Stdout, tag, sim)

	if err = sim.drain(); err != nil {
		return err
	}
	return nil
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
