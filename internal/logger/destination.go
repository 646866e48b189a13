package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gookit/color"
)

// Destination is a log destination.
type Destination int

const (
	// DestinationStdout writes logs to the standard output.
	DestinationStdout Destination = iota

	// DestinationFile writes logs to a file.
	DestinationFile
)

type destination interface {
	log(time.Time, Level, string, ...interface{})
	close()
}

type structuredEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// https://golang.org/src/log/log.go#L78
func itoa(buf *bytes.Buffer, i int, wid int) {
	// Assemble decimal in reverse order.
	var b [20]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	// i < 10
	b[bp] = byte('0' + i)
	buf.Write(b[bp:])
}

func writeTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	var intbuf bytes.Buffer

	// date
	year, month, day := t.Date()
	itoa(&intbuf, year, 4)
	intbuf.WriteByte('/')
	itoa(&intbuf, int(month), 2)
	intbuf.WriteByte('/')
	itoa(&intbuf, day, 2)
	intbuf.WriteByte(' ')

	// time
	hour, min, sec := t.Clock()
	itoa(&intbuf, hour, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, min, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, sec, 2)
	intbuf.WriteByte(' ')

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), intbuf.String()))
	} else {
		buf.WriteString(intbuf.String())
	}
}

func writeLevel(buf *bytes.Buffer, level Level, useColor bool) {
	if !useColor {
		buf.WriteString(level.short())
		buf.WriteByte(' ')
		return
	}

	switch level {
	case Debug:
		buf.WriteString(color.RenderString(color.Debug.Code(), level.short()))
	case Info:
		buf.WriteString(color.RenderString(color.Green.Code(), level.short()))
	case Warn:
		buf.WriteString(color.RenderString(color.Warn.Code(), level.short()))
	case Error:
		buf.WriteString(color.RenderString(color.Error.Code(), level.short()))
	}
	buf.WriteByte(' ')
}

func writeContent(buf *bytes.Buffer, format string, args []interface{}) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

func writePlain(buf *bytes.Buffer, t time.Time, level Level, format string, args []interface{}, useColor bool) {
	writeTime(buf, t, useColor)
	writeLevel(buf, level, useColor)
	writeContent(buf, format, args)
}

func writeStructured(buf *bytes.Buffer, t time.Time, level Level, format string, args []interface{}) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.Encode(structuredEntry{ //nolint:errcheck
		Timestamp: t.Format(time.RFC3339Nano),
		Level:     level.short(),
		Message:   fmt.Sprintf(format, args...),
	})
}
