package main

import (
	"fmt"
	"io"

	"github.com/mattn/go-tty"
	"github.com/pkg/errors"
	"golang.org/x/text/language"

	"gopherefi/kernel/mm"
)

const interactiveHelp = "keys: [a]llocate page, [A]llocate 16 pages, [f]ree, [d]rain, [s]tats, [q]uit"

// runInteractive reads single key presses from the terminal and applies the
// matching operation to the simulator until the user quits.
func runInteractive(s *simulator, tag language.Tag, out io.Writer) error {
	term, err := tty.Open()
	if err != nil {
		return errors.Wrap(err, "unable to open the terminal")
	}
	defer term.Close()

	fmt.Fprintln(out, interactiveHelp)
	for {
		key, err := term.ReadRune()
		if err != nil {
			return errors.Wrap(err, "unable to read from the terminal")
		}

		quit, err := s.handleKey(key, tag, out)
		if err != nil || quit {
			return err
		}
	}
}

// handleKey applies the operation bound to key. It returns true when the
// user asked to quit.
func (s *simulator) handleKey(key rune, tag language.Tag, out io.Writer) (bool, error) {
	switch key {
	case 'a', 'A':
		size := mm.PageSize
		if key == 'A' {
			size *= 16
		}

		before := len(s.live)
		if err := s.allocate(mm.PageSize, size); err != nil {
			return false, err
		}

		if len(s.live) == before {
			fmt.Fprintf(out, "allocation of %d bytes failed\n", size)
		} else {
			fmt.Fprintf(out, "allocated %d bytes at %#x\n", size, s.live[len(s.live)-1].addr)
		}
	case 'f':
		if len(s.live) == 0 {
			fmt.Fprintln(out, "nothing to free")
			break
		}

		addr := s.live[len(s.live)-1].addr
		if err := s.free(len(s.live) - 1); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "freed allocation at %#x\n", addr)
	case 'd':
		if err := s.drain(); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "released all allocations")
	case 's':
		writeReport(out, tag, s)
	case 'q', 3: // ctrl+c in raw mode
		return true, nil
	default:
		fmt.Fprintln(out, interactiveHelp)
	}

	return false, nil
}
