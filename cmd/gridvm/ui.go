package main

import (
	"fmt"
	"io"
)

// consoleUI prints progress lines prefixed with the machine name.
type consoleUI struct {
	machine string
	out     io.Writer
	errOut  io.Writer
}

func (u *consoleUI) Info(msg string) {
	_, _ = fmt.Fprintf(u.out, "==> %s: %s\n", u.machine, msg)
}

func (u *consoleUI) Warn(msg string) {
	_, _ = fmt.Fprintf(u.errOut, "==> %s: Warning: %s\n", u.machine, msg)
}
