// Package format renders attribution output for terminals.
package format

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Palette holds the escape sequences used for one output stream. The zero
// Palette prints plain text.
type Palette struct {
	Reset   string
	Bold    string
	Dim     string
	Yellow  string
	Cyan    string
	Green   string
	Magenta string
	Red     string
}

// ANSI is the palette for color terminals.
var ANSI = Palette{
	Reset:   "\033[0m",
	Bold:    "\033[1m",
	Dim:     "\033[2m",
	Yellow:  "\033[33m",
	Cyan:    "\033[36m",
	Green:   "\033[32m",
	Magenta: "\033[35m",
	Red:     "\033[31m",
}

// PaletteFor returns ANSI when w is a terminal and NO_COLOR is unset.
func PaletteFor(w io.Writer) Palette {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return Palette{}
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return Palette{}
	}
	return ANSI
}

// Width returns the terminal width of w, defaulting to 80.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 80
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return 80
	}
	return cols
}

func padOrTrunc(s string, w int) string {
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	return s + strings.Repeat(" ", w-len(r))
}

func runeLen(s string) int {
	return len([]rune(s))
}
