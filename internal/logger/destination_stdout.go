package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

type destinationStdout struct {
	w          io.Writer
	useColor   bool
	structured bool
	buf        bytes.Buffer
}

func newDestionationStdout(w io.Writer, structured bool) destination {
	useColor := false
	if w == nil {
		useColor = !structured && term.IsTerminal(int(os.Stdout.Fd()))
	}

	return &destinationStdout{
		w:          stdoutOrDefault(w),
		useColor:   useColor,
		structured: structured,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	if d.structured {
		writeStructured(&d.buf, t, level, format, args)
	} else {
		writePlain(&d.buf, t, level, format, args, d.useColor)
	}
	d.w.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}
