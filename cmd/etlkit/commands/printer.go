package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

// printer writes status lines. Colors follow color.NoColor, which is set
// when the output is not a terminal or NO_COLOR is set.
type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) printer { return printer{w: w} }

func (p printer) Success(format string, a ...any) {
	green.Fprintf(p.w, "✓ "+format, a...)
}

func (p printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.w, "! "+format, a...)
}

func (p printer) Failure(format string, a ...any) {
	red.Fprintf(p.w, "✗ "+format, a...)
}

func (p printer) Info(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}
