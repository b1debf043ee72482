package utils

import (
	"io"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgRed, color.FgWhite, color.FgMagenta}
var index = -1

var l sync.Mutex

const MaxNameLength = 20

// ColorLogger provides an io.Writer that prefixes every write with a
// colored step name. Each step gets one logger pair; nextColor rotates the
// palette so concurrent step output stays distinguishable.
type ColorLogger struct {
	name   string
	writer io.Writer
	c      color.Attribute
}

func NewColorLogger(name string, writer io.Writer, newColor bool) io.Writer {
	l.Lock()
	defer l.Unlock()
	if newColor {
		index = (index + 1) % len(colors)
	}

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      colors[(index+len(colors))%len(colors)],
	}
}

// Write prefixes p with the colored step name. The returned count reports
// consumption of p, not bytes written downstream, so the logger composes
// with io.MultiWriter without tripping short-write checks.
func (c *ColorLogger) Write(p []byte) (int, error) {
	out := color.New(c.c)
	if _, err := out.Fprintf(c.writer, "%s | %s", c.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
