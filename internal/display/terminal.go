package display

import (
	"os"

	"golang.org/x/term"
)

// DetectTerminal reports whether f is an interactive terminal and its width.
// The width falls back to DefaultWidth when unknown.
func DetectTerminal(f *os.File) (interactive bool, width int) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, DefaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return true, DefaultWidth
	}
	return true, w
}
