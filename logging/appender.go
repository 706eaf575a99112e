package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the timestamp layout of console and test log lines.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender receives log entries. It is the write half of zapcore.Core.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// formatEntry renders an entry as tab separated columns: time, level, logger name, caller,
// message and the fields as a JSON object. Empty caller and fields columns are left out.
func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	cols := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		cols = append(cols, shortCaller(entry.Caller))
	}
	cols = append(cols, entry.Message)
	if len(fields) == 0 {
		return strings.Join(cols, "\t"), nil
	}
	// the JSON encoder keeps fields in call order
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(cols, "\t"), err
	}
	defer buf.Free()
	cols = append(cols, buf.String())
	return strings.Join(cols, "\t"), nil
}

// shortCaller keeps the last directory and file name of a caller, e.g. "ik/solver.go:120".
func shortCaller(caller zapcore.EntryCaller) string {
	file := caller.File
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}
	return fmt.Sprintf("%s:%d", file, caller.Line)
}

// ConsoleAppender writes one line per entry to an io.Writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender returns a console appender on stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender returns a console appender on w.
func NewWriterAppender(w io.Writer) ConsoleAppender {
	return ConsoleAppender{w}
}

// Write prints the entry. A line is printed even when the fields fail to encode.
func (a ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	fmt.Fprintln(a.Writer, line)
	return err
}

// Sync is a no-op.
func (a ConsoleAppender) Sync() error {
	return nil
}

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender writing through tb.Log, so lines stay attached to the
// running test even when tests run in parallel.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (a *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	line, err := formatEntry(entry, fields)
	a.tb.Log(line)
	return err
}

func (a *testAppender) Sync() error {
	return nil
}
