package cli

import (
	"os"

	"golang.org/x/term"
)

// IsTTY checks if the given file descriptor is a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// IsOutputTerminal reports whether stdout is a TTY. Colored output is
// disabled when stdout is piped or redirected.
func IsOutputTerminal() bool {
	return IsTTY(os.Stdout.Fd())
}
