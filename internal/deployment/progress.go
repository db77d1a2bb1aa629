package deployment

import (
	"fmt"
	"io"
	"os"
)

const (
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// Progress prints one status line per task step.
type Progress struct {
	out   io.Writer
	color bool
}

// NewProgress writes to out, using colors only when out is a terminal.
// A nil out discards everything.
func NewProgress(out io.Writer) *Progress {
	if out == nil {
		return &Progress{out: io.Discard}
	}

	color := false
	if f, ok := out.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			color = true
		}
	}
	return &Progress{out: out, color: color}
}

// OK prints a success line.
func (p *Progress) OK(msg string) {
	p.print(msg, colorGreen, "[OK]")
}

// Fail prints a failure line.
func (p *Progress) Fail(msg string) {
	p.print(msg, colorRed, "[FAIL]")
}

// Warn prints a warning line.
func (p *Progress) Warn(msg string) {
	p.print(msg, colorYellow, "[WARN]")
}

func (p *Progress) print(msg, color, marker string) {
	if !p.color {
		fmt.Fprintf(p.out, "%-70s%s\n", msg, marker)
		return
	}
	fmt.Fprintf(p.out, "%-70s%s%s%s\n", msg, color, marker, colorReset)
}
